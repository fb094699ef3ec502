package stats

import (
	"fmt"
	"sort"
	"strings"

	"github.com/verte-zerg/keyprint/internal/model"
)

// Metrics holds identity verification quality figures for one claimed user.
type Metrics struct {
	Precision float64
	Recall    float64
	F1        float64
	FRR       float64
	FAR       float64
}

// Evaluate treats positive as the genuine user and every other label as an
// impostor. Precision, recall and F1 use 1 when their denominator is empty;
// FRR and FAR use 0.
func Evaluate(truth, predicted []int64, positive int64) (Metrics, error) {
	if len(truth) != len(predicted) {
		return Metrics{}, fmt.Errorf("%w: truth has %d labels, predicted has %d", model.ErrLengthMismatch, len(truth), len(predicted))
	}
	var tp, fp, fn, tn float64
	for i := range truth {
		actual := truth[i] == positive
		claimed := predicted[i] == positive
		switch {
		case actual && claimed:
			tp++
		case !actual && claimed:
			fp++
		case actual && !claimed:
			fn++
		default:
			tn++
		}
	}
	m := Metrics{
		Precision: ratioOr(tp, tp+fp, 1),
		Recall:    ratioOr(tp, tp+fn, 1),
		F1:        ratioOr(2*tp, 2*tp+fp+fn, 1),
		FRR:       ratioOr(fn, fn+tp, 0),
		FAR:       ratioOr(fp, fp+tn, 0),
	}
	return m, nil
}

// Accuracy returns the share of positions where predicted equals truth.
func Accuracy(truth, predicted []int64) float64 {
	if len(truth) == 0 {
		return 0
	}
	correct := 0
	for i := range truth {
		if i < len(predicted) && truth[i] == predicted[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(truth))
}

type classScore struct {
	precision float64
	recall    float64
	f1        float64
	support   int
}

// ClassificationReport renders per-class precision, recall, F1 and support
// followed by accuracy, macro and weighted averages. Empty denominators count
// as 0.
func ClassificationReport(truth, predicted []int64) string {
	labels := unionLabels(truth, predicted)
	scores := make([]classScore, len(labels))
	for i, label := range labels {
		var tp, fp, fn float64
		support := 0
		for j := range truth {
			actual := truth[j] == label
			claimed := predicted[j] == label
			if actual {
				support++
			}
			switch {
			case actual && claimed:
				tp++
			case !actual && claimed:
				fp++
			case actual && !claimed:
				fn++
			}
		}
		scores[i] = classScore{
			precision: ratioOr(tp, tp+fp, 0),
			recall:    ratioOr(tp, tp+fn, 0),
			f1:        ratioOr(2*tp, 2*tp+fp+fn, 0),
			support:   support,
		}
	}

	headers := []string{"", "precision", "recall", "f1-score", "support"}
	rows := make([][]string, 0, len(labels)+4)
	for i, label := range labels {
		s := scores[i]
		rows = append(rows, []string{
			fmt.Sprintf("%d", label),
			fmt.Sprintf("%.2f", s.precision),
			fmt.Sprintf("%.2f", s.recall),
			fmt.Sprintf("%.2f", s.f1),
			fmt.Sprintf("%d", s.support),
		})
	}
	rows = append(rows, []string{"", "", "", "", ""})

	total := len(truth)
	rows = append(rows, []string{"accuracy", "", "", fmt.Sprintf("%.2f", Accuracy(truth, predicted)), fmt.Sprintf("%d", total)})
	var macro, weighted classScore
	for _, s := range scores {
		macro.precision += s.precision
		macro.recall += s.recall
		macro.f1 += s.f1
		w := float64(s.support)
		weighted.precision += s.precision * w
		weighted.recall += s.recall * w
		weighted.f1 += s.f1 * w
	}
	if n := float64(len(scores)); n > 0 {
		macro.precision /= n
		macro.recall /= n
		macro.f1 /= n
	}
	if total > 0 {
		weighted.precision /= float64(total)
		weighted.recall /= float64(total)
		weighted.f1 /= float64(total)
	}
	for _, avg := range []struct {
		name  string
		score classScore
	}{{"macro avg", macro}, {"weighted avg", weighted}} {
		rows = append(rows, []string{
			avg.name,
			fmt.Sprintf("%.2f", avg.score.precision),
			fmt.Sprintf("%.2f", avg.score.recall),
			fmt.Sprintf("%.2f", avg.score.f1),
			fmt.Sprintf("%d", total),
		})
	}

	rightAlign := map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true}
	lines := FormatTable(headers, rows, rightAlign)
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.Join(lines, "\n") + "\n"
}

func unionLabels(a, b []int64) []int64 {
	seen := map[int64]struct{}{}
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		seen[v] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ratioOr(num, den, fallback float64) float64 {
	if den == 0 {
		return fallback
	}
	return num / den
}

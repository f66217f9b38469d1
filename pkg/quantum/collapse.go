package quantum

import (
	"errors"
	"fmt"
)

// ErrAllThreadsFailed means no thread produced a usable result.
var ErrAllThreadsFailed = errors.New("all quantum threads failed")

// CombinedEntry is one contribution in a combined collapse.
type CombinedEntry struct {
	Source   string  `json:"source"`
	Response string  `json:"response"`
	Score    float64 `json:"score"`
}

// Outcome is the collapsed result of one quantum task.
type Outcome struct {
	Strategy Strategy `json:"strategy"`

	// Selected is the winning thread; nil for the combined strategy.
	Selected *ThreadResult `json:"selected,omitempty"`

	FinalScore float64 `json:"final_score"`

	// Confidence accompanies the consensus strategy.
	Confidence float64 `json:"confidence,omitempty"`

	// Combined carries every contribution for the combined strategy.
	Combined []CombinedEntry `json:"combined_responses,omitempty"`

	Summary string          `json:"summary"`
	Threads []*ThreadResult `json:"threads"`
}

func collapse(strategy Strategy, results []*ThreadResult, variations []*Variation) (*Outcome, error) {
	out := &Outcome{Strategy: strategy, Threads: results}

	switch strategy {
	case FirstSuccess:
		var first *ThreadResult
		for _, r := range results {
			if !r.Succeeded() {
				continue
			}
			if first == nil || r.completedAt.Before(first.completedAt) {
				first = r
			}
		}
		if first == nil {
			return nil, ErrAllThreadsFailed
		}
		out.Selected = first
		out.FinalScore = first.Scores.Total

	case BestScore:
		best := argmaxTotal(results)
		if best == nil {
			return nil, ErrAllThreadsFailed
		}
		out.Selected = best
		out.FinalScore = best.Scores.Total

	case Consensus:
		best := argmaxTotal(results)
		if best == nil {
			return nil, ErrAllThreadsFailed
		}
		out.Selected = best
		out.FinalScore = meanTotal(results)
		out.Confidence = float64(len(results)) / 10
		if out.Confidence > 1 {
			out.Confidence = 1
		}

	case Combined:
		any := false
		for _, r := range results {
			if !r.Succeeded() {
				continue
			}
			any = true
			out.Combined = append(out.Combined, CombinedEntry{
				Source:   r.Name,
				Response: r.Raw,
				Score:    r.Scores.Total,
			})
		}
		if !any {
			return nil, ErrAllThreadsFailed
		}
		out.FinalScore = meanTotal(results)

	case Weighted:
		weightByVariation := map[string]float64{}
		var weightSum float64
		for _, v := range variations {
			w := v.Weight
			if w <= 0 {
				w = 1
			}
			weightByVariation[v.ID] = w
			weightSum += w
		}

		var best *ThreadResult
		bestWeighted := -1.0
		var finalSum float64
		anySuccess := false
		for _, r := range results {
			w := weightByVariation[r.VariationID]
			weighted := w * r.Scores.Total
			finalSum += weighted
			if r.Succeeded() {
				anySuccess = true
				if weighted > bestWeighted {
					bestWeighted = weighted
					best = r
				}
			}
		}
		if !anySuccess {
			return nil, ErrAllThreadsFailed
		}
		out.Selected = best
		out.FinalScore = finalSum / weightSum

	default:
		return nil, fmt.Errorf("unknown collapse strategy %q", strategy)
	}

	out.Summary = summarize(out, results)
	return out, nil
}

// argmaxTotal picks the highest-scoring successful thread; ties go to
// the earliest completion.
func argmaxTotal(results []*ThreadResult) *ThreadResult {
	var best *ThreadResult
	for _, r := range results {
		if !r.Succeeded() {
			continue
		}
		if best == nil ||
			r.Scores.Total > best.Scores.Total ||
			(r.Scores.Total == best.Scores.Total && r.completedAt.Before(best.completedAt)) {
			best = r
		}
	}
	return best
}

func meanTotal(results []*ThreadResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Scores.Total
	}
	return sum / float64(len(results))
}

func summarize(out *Outcome, results []*ThreadResult) string {
	succeeded := 0
	for _, r := range results {
		if r.Succeeded() {
			succeeded++
		}
	}
	s := fmt.Sprintf("%s collapse over %d threads (%d succeeded), final score %.3f",
		out.Strategy, len(results), succeeded, out.FinalScore)
	if out.Selected != nil {
		s += fmt.Sprintf(", selected %q", out.Selected.Name)
	}
	return s
}

package fitness

import (
	"math"
	"sort"
)

// Weighting maps objective names to their weights. An objective absent from
// the weighting cannot be inserted. Negative weights mark objectives that are
// maximized; Scalar is always minimized.
type Weighting map[string]float64

// Weighted is a named, weighted multi-objective fitness vector.
type Weighted struct {
	Scores    map[string]float64 `json:"scores"`
	Weighting Weighting          `json:"weighting"`
	failed    bool
}

func New(weighting Weighting) *Weighted {
	w := make(Weighting, len(weighting))
	for k, v := range weighting {
		w[k] = v
	}
	return &Weighted{Scores: make(map[string]float64, len(w)), Weighting: w}
}

// worst is the least desirable admissible value for an objective.
func (f *Weighted) worst(name string) float64 {
	if f.Weighting[name] < 0 {
		return -math.MaxFloat64
	}
	return math.MaxFloat64
}

// Insert records a score. It reports false when the objective is not
// weighted. NaN scores are replaced by the objective's worst value.
func (f *Weighted) Insert(name string, score float64) bool {
	if _, ok := f.Weighting[name]; !ok {
		return false
	}
	if math.IsNaN(score) {
		score = f.worst(name)
	}
	f.Scores[name] = score
	return true
}

func (f *Weighted) Get(name string) (float64, bool) {
	v, ok := f.Scores[name]
	return v, ok
}

// DeclareFailure sets every insertable objective to its worst value.
func (f *Weighted) DeclareFailure() {
	for name := range f.Weighting {
		f.Scores[name] = f.worst(name)
	}
	f.failed = true
}

func (f *Weighted) Failed() bool {
	return f.failed
}

// Scalar is the weighted sum of recorded scores. Failed vectors sum to +Inf.
func (f *Weighted) Scalar() float64 {
	if f.failed {
		return math.Inf(1)
	}
	var sum float64
	for name, score := range f.Scores {
		w := f.Weighting[name]
		if w == 0 {
			continue
		}
		sum += w * score
	}
	return sum
}

// Names lists the recorded objectives in sorted order.
func (f *Weighted) Names() []string {
	out := make([]string, 0, len(f.Scores))
	for name := range f.Scores {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

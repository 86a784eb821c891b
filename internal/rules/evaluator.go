package rules

import (
	"math"

	"nbgrade/internal/logging"
	"nbgrade/internal/notebook"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Corpus      notebook.Corpus `json:"corpus"`
	Passed      bool            `json:"passed"`
	Message     string          `json:"message,omitempty"`
}

// Result is the outcome of evaluating every registered check.
type Result struct {
	Checks []CheckResult `json:"checks"`
	Passed int           `json:"passed"`
	Total  int           `json:"total"`
	Score  int           `json:"score"`
}

// Get returns the named check result.
func (r *Result) Get(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Failed returns the checks that did not pass, in registry order.
func (r *Result) Failed() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Score converts a pass ratio to a 0-100 grade, rounding half to even.
// An empty registry scores 0.
func Score(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.RoundToEven(100 * float64(passed) / float64(total)))
}

// Evaluator runs a fixed list of checks.
type Evaluator struct {
	checks []Check
}

// NewEvaluator creates an evaluator over the given checks.
func NewEvaluator(checks []Check) *Evaluator {
	return &Evaluator{checks: append([]Check(nil), checks...)}
}

// Checks returns the registered checks in evaluation order.
func (e *Evaluator) Checks() []Check {
	return append([]Check(nil), e.checks...)
}

// Evaluate builds the corpora from doc and runs every check.
// Only a malformed document produces an error.
func (e *Evaluator) Evaluate(doc *notebook.Document) (*Result, error) {
	corpora, err := doc.Corpora()
	if err != nil {
		return nil, err
	}
	return e.EvaluateCorpora(corpora), nil
}

// EvaluateCorpora runs every check against prebuilt corpora.
func (e *Evaluator) EvaluateCorpora(corpora notebook.Corpora) *Result {
	timer := logging.StartTimer(logging.CategoryEvaluator, "Check evaluation")
	defer timer.Stop()

	res := &Result{
		Checks: make([]CheckResult, 0, len(e.checks)),
		Total:  len(e.checks),
	}
	for _, c := range e.checks {
		passed, msg := c.Run(corpora)
		if passed {
			res.Passed++
			msg = ""
		}
		logging.EvaluatorDebug("check %s: passed=%v", c.Name, passed)
		res.Checks = append(res.Checks, CheckResult{
			Name:        c.Name,
			Description: c.Description,
			Corpus:      c.Corpus,
			Passed:      passed,
			Message:     msg,
		})
	}
	res.Score = Score(res.Passed, res.Total)
	logging.Evaluator("evaluated %d checks: %d passed, score %d", res.Total, res.Passed, res.Score)
	return res
}

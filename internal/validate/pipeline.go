package validate

import (
	"context"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/agents"
	"golang.org/x/sync/errgroup"
)

// Result is one validator's verdict on a candidate.
type Result struct {
	Name        string
	Passed      bool
	Score       float64
	Threshold   float64
	Issues      []string
	Suggestions []string
}

// Input carries everything validators may inspect.
type Input struct {
	Candidate string // plain-text rendition of the tailored resume
	HTML      string
	Source    string // original resume text
	Job       *agents.JobPosting
}

// Validator is one pluggable check over a candidate document.
type Validator interface {
	Name() string
	Threshold() float64
	Evaluate(ctx context.Context, in Input) (Result, error)
}

// splitter is implemented by validators that derive several named verdicts
// from a single evaluation. The pipeline reports each verdict as its own
// result, in the order the validator returns them.
type splitter interface {
	Split(ctx context.Context, in Input) ([]Result, error)
}

// Outcome aggregates one pipeline pass. Results keep registration order
// regardless of execution mode.
type Outcome struct {
	Passed  bool
	Results []Result
}

// Pipeline runs its validators in priority order, sequentially or
// concurrently. A validator fault becomes a failed result rather than
// aborting the pass, so the refine loop can still act on the rest.
type Pipeline struct {
	validators []Validator
	parallel   bool
}

func NewPipeline(parallel bool, validators ...Validator) *Pipeline {
	return &Pipeline{validators: validators, parallel: parallel}
}

func (p *Pipeline) Run(ctx context.Context, in Input) (Outcome, error) {
	buckets := make([][]Result, len(p.validators))

	if p.parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, v := range p.validators {
			i, v := i, v
			g.Go(func() error {
				buckets[i] = evaluate(gctx, v, in)
				return nil
			})
		}
		g.Wait()
	} else {
		for i, v := range p.validators {
			buckets[i] = evaluate(ctx, v, in)
			if ctx.Err() != nil {
				break
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	passed := true
	var results []Result
	for _, bucket := range buckets {
		for _, r := range bucket {
			if !r.Passed {
				passed = false
			}
			results = append(results, r)
		}
	}
	return Outcome{Passed: passed, Results: results}, nil
}

func evaluate(ctx context.Context, v Validator, in Input) []Result {
	if sp, ok := v.(splitter); ok {
		results, err := sp.Split(ctx, in)
		if err != nil {
			return []Result{faultResult(v, err)}
		}
		return results
	}

	res, err := v.Evaluate(ctx, in)
	if err != nil {
		return []Result{faultResult(v, err)}
	}
	res.Name = v.Name()
	res.Threshold = v.Threshold()
	return []Result{res}
}

func faultResult(v Validator, err error) Result {
	return Result{
		Name:      v.Name(),
		Passed:    false,
		Threshold: v.Threshold(),
		Issues:    []string{"validator error: " + err.Error()},
	}
}

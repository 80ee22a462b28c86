// Package batch executes one Flow over many independent contexts with
// bounded concurrency. Each context's run is fully isolated: a failing run
// never cancels or affects its siblings, and the complete set of per-context
// outcomes is always returned in input order.
package batch

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/flow"
)

// Result is the outcome of one context's run. Exactly one of Context and Err
// is meaningful: a successful run carries the final context, a failed run
// carries the error.
type Result struct {
	// Index is the context's position in the input sequence
	Index int

	// RunID uniquely identifies this run for logging and tracing
	RunID string

	// Context is the final context of a successful run
	Context *flow.Context

	// Err is the run's failure, if any
	Err error
}

// BatchFlow fans a single Flow out across many contexts. The only shared
// resource between concurrent runs is the concurrency limiter.
type BatchFlow struct {
	flow    *flow.Flow
	limiter *concurrency.Limiter
	logger  *zap.Logger
}

// New creates a BatchFlow bounding in-flight runs to maxConcurrent. A
// non-positive maxConcurrent falls back to the environment-derived default.
// A nil logger disables logging.
func New(f *flow.Flow, maxConcurrent int, logger *zap.Logger) *BatchFlow {
	if maxConcurrent <= 0 {
		maxConcurrent = concurrency.DefaultConfig().MaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchFlow{
		flow:    f,
		limiter: concurrency.NewLimiter(maxConcurrent),
		logger:  logger,
	}
}

// Run executes the flow over each context and returns one Result per input,
// ordered by input position regardless of completion order. Run itself never
// returns an error: aggregation policy belongs to the caller, who decides
// whether any individual failure is fatal.
//
// Cancelling ctx stops admitting new runs and lets in-flight runs observe the
// cancellation at their next step boundary; cancelled members report ctx.Err()
// as their outcome.
func (b *BatchFlow) Run(ctx context.Context, contexts []*flow.Context) []Result {
	results := make([]Result, len(contexts))
	b.logger.Info("starting batch run",
		zap.Int("contexts", len(contexts)),
		zap.Int("max_concurrent", b.limiter.Capacity()))

	var wg sync.WaitGroup
	for i, c := range contexts {
		runID := uuid.NewString()
		if err := b.limiter.Acquire(ctx); err != nil {
			results[i] = Result{Index: i, RunID: runID, Err: err}
			continue
		}

		wg.Add(1)
		go func(index int, runID string, c *flow.Context) {
			defer wg.Done()
			defer b.limiter.Release()

			final, err := b.flow.Run(ctx, c)
			if err != nil {
				b.logger.Warn("batch member failed",
					zap.Int("index", index),
					zap.String("run_id", runID),
					zap.Error(err))
			}
			// Each goroutine writes a distinct slice element; no lock needed.
			results[index] = Result{Index: index, RunID: runID, Context: final, Err: err}
		}(i, runID, c)
	}
	wg.Wait()

	b.logger.Info("batch run complete",
		zap.Int("succeeded", Succeeded(results)),
		zap.Int("failed", Failed(results)))
	return results
}

// Succeeded counts the successful results.
func Succeeded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts the failed results.
func Failed(results []Result) int {
	return len(results) - Succeeded(results)
}

// FirstError returns the error of the earliest failed result, or nil when
// every run succeeded. Callers treating any failure as fatal use this as
// their aggregation policy.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

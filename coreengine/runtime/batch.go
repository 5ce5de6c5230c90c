package runtime

import (
	"context"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/schema"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds RunBatch when limit is not positive.
const DefaultBatchConcurrency = 5

// BatchItem is the outcome of one batch entry, in input order.
type BatchItem[T any] struct {
	Index  int
	Result Result[T]
	Err    error
}

// BatchResult splits a batch into successes and failures.
type BatchResult[T any] struct {
	Succeeded []BatchItem[T]
	Failed    []BatchItem[T]
}

// RunBatch runs independent configs against the same contract with at most
// limit in flight. A failed item is filtered into Failed and never cancels
// the others. Only cancellation of ctx aborts the batch.
func RunBatch[T any](ctx context.Context, r *Runner, cfgs []RunConfig, contract *schema.Contract[T], limit int) (BatchResult[T], error) {
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}
	items := make([]BatchItem[T], len(cfgs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, cfg := range cfgs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i] = BatchItem[T]{Index: i, Err: err}
				return nil
			}
			res, err := Run(gctx, r, cfg, contract)
			items[i] = BatchItem[T]{Index: i, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var out BatchResult[T]
	for _, it := range items {
		if it.Err != nil {
			out.Failed = append(out.Failed, it)
		} else {
			out.Succeeded = append(out.Succeeded, it)
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

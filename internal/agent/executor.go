package agent

import (
	"context"
)

type graphRunner interface {
	Run(ctx context.Context, query string) ([]map[string]any, error)
}

// GraphExecutor runs candidates against the graph database. Every error from
// the driver is treated as a rejection of this candidate rather than an
// infrastructure fault, because a malformed query and a driver error are
// indistinguishable at this layer and both are repairable by regenerating.
type GraphExecutor struct {
	runner graphRunner
}

func NewGraphExecutor(runner graphRunner) *GraphExecutor {
	return &GraphExecutor{runner: runner}
}

func (e *GraphExecutor) Execute(ctx context.Context, query string) (ExecutionOutcome, error) {
	rows, err := e.runner.Run(ctx, query)
	if err != nil {
		return ExecutionOutcome{Success: false, Err: err.Error()}, nil
	}
	return ExecutionOutcome{Success: true, Rows: rows}, nil
}

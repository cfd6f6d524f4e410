package frontend

import (
	"context"

	"github.com/moby/buildkit/client/llb"
	gwclient "github.com/moby/buildkit/frontend/gateway/client"
	"github.com/pkg/errors"
)

type solveRequestOpt func(*gwclient.SolveRequest) error

func newSolveRequest(opts ...solveRequestOpt) (gwclient.SolveRequest, error) {
	var sr gwclient.SolveRequest

	for _, o := range opts {
		if err := o(&sr); err != nil {
			return sr, err
		}
	}
	return sr, nil
}

func withState(ctx context.Context, st llb.State, opts ...llb.ConstraintsOpt) solveRequestOpt {
	return func(req *gwclient.SolveRequest) error {
		def, err := st.Marshal(ctx, opts...)
		if err != nil {
			return errors.Wrap(err, "error marshaling state to LLB")
		}
		req.Definition = def.ToPB()
		return nil
	}
}

// withEvaluate forces the solve to fully evaluate instead of returning a
// lazy reference. Errors in the solved state surface from the solve itself
// rather than from a later read.
func withEvaluate(req *gwclient.SolveRequest) error {
	req.Evaluate = true
	return nil
}

// solveRef solves the given state and returns the single resulting ref.
func solveRef(ctx context.Context, client gwclient.Client, st llb.State, opts ...llb.ConstraintsOpt) (gwclient.Reference, error) {
	sr, err := newSolveRequest(withState(ctx, st, opts...), withEvaluate)
	if err != nil {
		return nil, err
	}

	res, err := client.Solve(ctx, sr)
	if err != nil {
		return nil, err
	}
	return res.SingleRef()
}

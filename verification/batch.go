package verification

import (
	"context"

	"github.com/vitwit/paygate/types"
	"golang.org/x/sync/errgroup"
)

// BatchVerify verifies multiple claims concurrently, at most limit at a
// time. Results are index-aligned with claims; an entry is nil when its
// verification returned an error, and the first such error is returned.
func (v *Verifier) BatchVerify(ctx context.Context, claims []types.PaymentClaim, limit int) ([]*types.VerificationResult, error) {
	if len(claims) == 0 {
		return nil, &types.PaymentError{
			Code:    types.ErrInvalidPayload,
			Reason:  types.ReasonInvalidRequest,
			Message: "no payments to verify",
		}
	}
	if limit <= 0 {
		limit = 4
	}

	results := make([]*types.VerificationResult, len(claims))
	errs := make([]error, len(claims))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, claim := range claims {
		g.Go(func() error {
			results[i], errs[i] = v.Verify(gctx, claim)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

package nodes

import (
	"context"
	"time"

	"github.com/loudon84/mcs-orchestrator/internal/model"
	"github.com/loudon84/mcs-orchestrator/internal/orchestrator"
	"github.com/loudon84/mcs-orchestrator/internal/review"
)

// Finalize is the terminal node: every run passes through it exactly once
// (spec.md §8 "audit totality"). It resolves final_status if no earlier
// node already set one, and attaches manual-review candidates when the
// resolved status is MANUAL_REVIEW.
func Finalize(ctx context.Context, deps *orchestrator.Deps, state *model.RunState) (model.Delta, orchestrator.NodeName, error) {
	delta := model.Delta{}

	status := deriveStatus(state)
	if state.FinalStatus == nil {
		delta.FinalStatus = &status
	} else {
		status = *state.FinalStatus
	}

	if status == model.StatusManualReview && state.ManualReview == nil {
		candidates := review.GenerateCandidates(state)
		now := time.Now
		if deps.Now != nil {
			now = deps.Now
		}
		reasonCode := firstErrorCode(state.Errors)
		delta.ManualReview = &model.ManualReviewInfo{
			ReasonCode: reasonCode,
			CreatedAt:  now().UTC().Format(time.RFC3339),
			Candidates: candidates,
		}
	}

	return delta, "", nil
}

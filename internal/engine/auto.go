package engine

import (
	"context"

	"shopflow/internal/domain"
	"shopflow/internal/engine/guard"
)

// EvaluateAuto scans the automatic transitions out of the task's current
// status in priority order and applies the first one whose conditions hold,
// recorded against the system actor. At most one transition is applied per
// call; the result reports whether one was. Permission rules are not
// consulted, there is no requesting user.
func (e Engine) EvaluateAuto(ctx context.Context, taskID string) (bool, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	candidates, err := e.Repo.ListAutoTransitions(ctx, t.ProjectID, t.StatusID)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		return false, nil
	}
	facts, err := e.loadFacts(ctx, taskID)
	if err != nil {
		return false, err
	}
	current, err := e.Repo.GetStatus(ctx, t.StatusID)
	if err != nil {
		return false, err
	}
	for _, tr := range candidates {
		if err := guard.EvaluateAutomatic(tr, facts); err != nil {
			continue
		}
		target, err := e.Repo.GetStatus(ctx, tr.ToStatusID)
		if err != nil {
			return false, err
		}
		if _, err := e.applyStatusChange(ctx, t, current, target, domain.SystemActorID); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

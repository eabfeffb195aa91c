package agent

import (
	"context"
	"fmt"

	"github.com/haasonsaas/conductor/pkg/events"
)

// ReviewerSystemPrompt guides the review pass over the main agent's work.
const ReviewerSystemPrompt = `You are a meticulous reviewer. Another agent has just finished a task.
Verify the work product against the task: inspect the workspace, read the
files it touched, and run checks where they help. Be specific about what is
wrong or missing. When you are done, call return_control_to_general_agent
with your feedback as the argument. If the work is correct, say so and state
what you verified.`

// Reviewer runs a second pass over a completed session: same tool manager
// with a narrowed completion sentinel, a reviewer prompt, and a fresh
// projection seeded with the task, the answer, and the workspace path.
type Reviewer struct {
	cfg Config
}

// NewReviewer builds a reviewer from controller wiring. Policy should carry
// the reviewer system prompt; Tools is the session's manager.
func NewReviewer(cfg Config) *Reviewer {
	return &Reviewer{cfg: cfg}
}

// Review runs the sub-loop and returns the feedback that replaces the final
// answer. The reviewer's events are appended to the session state with ids
// continuing after the main run, so the durable log stays one ordered
// stream. On failure the original answer comes back along with the error.
func (r *Reviewer) Review(ctx context.Context, state *State, task, answer, workspace string) (string, error) {
	r.cfg.Tools.UseCompletionTools(events.ToolNameReturnToGeneral)
	defer r.cfg.Tools.UseCompletionTools(events.ToolNameComplete, events.ToolNameReturnToUser)

	// The reviewer sees only its seed message, not the main loop's turns.
	sub := NewState(state.SessionID)
	sub.NextEventID = state.NextEventID

	ctrl := NewController(sub, r.cfg)
	if err := ctrl.Submit(ctx, BuildReviewPrompt(task, answer, workspace)); err != nil {
		return answer, err
	}
	feedback, err := ctrl.Run(ctx)

	state.Events = append(state.Events, sub.Events...)
	state.NextEventID = sub.NextEventID
	if err != nil {
		return answer, err
	}
	if feedback == "" {
		feedback = answer
	}
	state.Outputs["final_answer"] = feedback

	if r.cfg.Store != nil {
		if err := r.cfg.Store.SaveState(ctx, state.SessionID, state.Checkpoint()); err != nil {
			return feedback, err
		}
	}
	return feedback, nil
}

// BuildReviewPrompt renders the reviewer's seed message.
func BuildReviewPrompt(task, answer, workspace string) string {
	return fmt.Sprintf(
		"Review the following completed work.\n\nOriginal task:\n%s\n\nAgent's final answer:\n%s\n\nWorkspace: %s",
		task, answer, workspace)
}

package builtin

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/pkg/events"
)

// Control tools are registered like any other so their schemas reach the
// LLM, but the tool manager intercepts them before dispatch: completion
// names flip the stop flag and message_user routes through the emitter.
// Their Execute bodies only apply when a registry is used without a manager.

type completeInput struct {
	FinalAnswer string `json:"final_answer" jsonschema:"description=The final answer or result summary for the user"`
}

// CompleteTool signals that the task is finished.
type CompleteTool struct{ name string }

// NewCompleteTool returns the main loop's completion tool under the given
// registered name (complete or return_control_to_user).
func NewCompleteTool(name string) *CompleteTool { return &CompleteTool{name: name} }

func (t *CompleteTool) Name() string        { return t.name }
func (t *CompleteTool) Description() string {
	return "Signal that the task is complete and hand control back to the user, with the final answer."
}
func (t *CompleteTool) Schema() json.RawMessage { return mustSchema(&completeInput{}) }

func (t *CompleteTool) Execute(_ context.Context, input json.RawMessage) (*tools.Result, error) {
	var args completeInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	return tools.TextResult("Task marked complete."), nil
}

type reviewerReturnInput struct {
	Feedback string `json:"feedback" jsonschema:"description=Review feedback on the agent's work"`
}

// ReviewerReturnTool is the reviewer loop's distinct completion sentinel.
type ReviewerReturnTool struct{}

func (ReviewerReturnTool) Name() string { return events.ToolNameReturnToGeneral }
func (ReviewerReturnTool) Description() string {
	return "Finish the review and return control to the general agent, carrying the review feedback."
}
func (ReviewerReturnTool) Schema() json.RawMessage { return mustSchema(&reviewerReturnInput{}) }

func (ReviewerReturnTool) Execute(_ context.Context, input json.RawMessage) (*tools.Result, error) {
	var args reviewerReturnInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	return tools.TextResult("Review complete."), nil
}

type messageUserInput struct {
	Message         string `json:"message" jsonschema:"description=Message to show the user"`
	WaitForResponse bool   `json:"wait_for_response,omitempty" jsonschema:"description=Pause the run until the user replies"`
}

// MessageUserTool surfaces a progress message to the user mid-run.
type MessageUserTool struct{}

func (MessageUserTool) Name() string { return events.ToolNameMessageUser }
func (MessageUserTool) Description() string {
	return "Send a message to the user. Set wait_for_response only when the task cannot proceed without their input."
}
func (MessageUserTool) Schema() json.RawMessage { return mustSchema(&messageUserInput{}) }

func (MessageUserTool) Execute(_ context.Context, input json.RawMessage) (*tools.Result, error) {
	var args messageUserInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	return tools.TextResult("Message delivered to user."), nil
}

type thinkInput struct {
	Thought string `json:"thought" jsonschema:"description=A thought to record; not shown to the user"`
}

// ThinkTool is a no-op scratchpad for intermediate reasoning.
type ThinkTool struct{}

func (ThinkTool) Name() string { return events.ToolNameThink }
func (ThinkTool) Description() string {
	return "Record an intermediate thought. Produces no side effects."
}
func (ThinkTool) Schema() json.RawMessage { return mustSchema(&thinkInput{}) }

func (ThinkTool) Execute(_ context.Context, input json.RawMessage) (*tools.Result, error) {
	var args thinkInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, err
	}
	return tools.TextResult("Thought recorded."), nil
}

// RegisterDefaults registers the reference tool set plus the main loop's
// control tools on the given registry.
func RegisterDefaults(r *tools.Registry) error {
	all := []tools.Tool{
		FileReadTool{},
		FileWriteTool{},
		FileEditTool{},
		CmdRunTool{},
		ThinkTool{},
		MessageUserTool{},
		NewCompleteTool(events.ToolNameComplete),
		NewCompleteTool(events.ToolNameReturnToUser),
	}
	for _, tool := range all {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// RegisterReviewer adds the reviewer's completion sentinel. Kept separate
// from the main sentinel; the two never alias.
func RegisterReviewer(r *tools.Registry) error {
	return r.Register(ReviewerReturnTool{})
}

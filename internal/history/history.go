// Package history builds the provider-neutral message list sent to the LLM.
//
// The durable event log is the source of truth. A History is a disposable
// projection of it, rebuilt before each LLM call, so edits to the log (user
// query rewrites, context truncation) never require rewriting past turns.
package history

import (
	"encoding/json"
	"strings"
)

// Role labels a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block is one content block inside a turn.
type Block interface{ isBlock() }

// TextBlock is prompt or response text.
type TextBlock struct {
	Text string
}

func (TextBlock) isBlock() {}

// ToolCallBlock is a tool invocation inside an assistant turn.
type ToolCallBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

func (ToolCallBlock) isBlock() {}

// ToolResultBlock is a tool response. It rides in a user-role turn, which is
// how every supported provider expects results back.
type ToolResultBlock struct {
	ToolCallID string
	Content    string
	IsError    bool
}

func (ToolResultBlock) isBlock() {}

// Turn is an ordered list of blocks attributed to one role.
type Turn struct {
	Role   Role
	Blocks []Block
}

// Text concatenates the turn's text blocks.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, b := range t.Blocks {
		if tb, ok := b.(TextBlock); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

func (t Turn) textOnly() bool {
	for _, b := range t.Blocks {
		if _, ok := b.(TextBlock); !ok {
			return false
		}
	}
	return len(t.Blocks) > 0
}

// History is an ordered list of turns under construction.
type History struct {
	turns []Turn
}

func New() *History { return &History{} }

// AppendUser appends a user text turn. Attached file paths are listed after
// the message body.
func (h *History) AppendUser(text string, files ...string) {
	if len(files) > 0 {
		text += "\n\nAttached files: " + strings.Join(files, ", ")
	}
	h.turns = append(h.turns, Turn{Role: RoleUser, Blocks: []Block{TextBlock{Text: text}}})
}

// AppendAssistant appends an assistant turn of one or more blocks.
func (h *History) AppendAssistant(blocks ...Block) {
	if len(blocks) == 0 {
		return
	}
	h.turns = append(h.turns, Turn{Role: RoleAssistant, Blocks: blocks})
}

// AppendToolResult appends a tool response turn.
func (h *History) AppendToolResult(toolCallID, content string, isError bool) {
	h.turns = append(h.turns, Turn{Role: RoleUser, Blocks: []Block{
		ToolResultBlock{ToolCallID: toolCallID, Content: content, IsError: isError},
	}})
}

// Clear discards all turns.
func (h *History) Clear() { h.turns = nil }

// ClearFromLastUser discards history from, and including, the most recent
// user message turn. Tool-result turns are user-role but do not count; the
// cut lands on the last turn carrying actual user text.
func (h *History) ClearFromLastUser() {
	for i := len(h.turns) - 1; i >= 0; i-- {
		t := h.turns[i]
		if t.Role == RoleUser && t.textOnly() {
			h.turns = h.turns[:i]
			return
		}
	}
}

// Len returns the number of turns appended so far.
func (h *History) Len() int { return len(h.turns) }

// Turns returns a copy of the raw, unprojected turns.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// ProjectForLLM returns the turn list in the shape providers accept:
// orphaned tool calls and results are dropped, empty turns are dropped,
// consecutive user text turns are joined with a blank line, and at most one
// system turn survives at the head.
func (h *History) ProjectForLLM() []Turn {
	calls := make(map[string]bool)
	results := make(map[string]bool)
	for _, t := range h.turns {
		for _, b := range t.Blocks {
			switch blk := b.(type) {
			case ToolCallBlock:
				calls[blk.ID] = true
			case ToolResultBlock:
				results[blk.ToolCallID] = true
			}
		}
	}

	filtered := make([]Turn, 0, len(h.turns))
	for _, t := range h.turns {
		if t.Role == RoleSystem && len(filtered) > 0 {
			continue
		}
		blocks := make([]Block, 0, len(t.Blocks))
		for _, b := range t.Blocks {
			switch blk := b.(type) {
			case TextBlock:
				if strings.TrimSpace(blk.Text) == "" {
					continue
				}
				blocks = append(blocks, blk)
			case ToolCallBlock:
				// A call the environment never answered would be
				// rejected by the provider.
				if !results[blk.ID] {
					continue
				}
				blocks = append(blocks, blk)
			case ToolResultBlock:
				if !calls[blk.ToolCallID] {
					continue
				}
				blocks = append(blocks, blk)
			default:
				blocks = append(blocks, blk)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		filtered = append(filtered, Turn{Role: t.Role, Blocks: blocks})
	}

	// Join back-to-back user text turns; providers reject runs of the
	// same role.
	out := make([]Turn, 0, len(filtered))
	for _, t := range filtered {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.Role == RoleUser && t.Role == RoleUser && prev.textOnly() && t.textOnly() {
				last := prev.Blocks[len(prev.Blocks)-1].(TextBlock)
				last.Text += "\n\n" + t.Text()
				prev.Blocks[len(prev.Blocks)-1] = last
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

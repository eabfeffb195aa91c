package history

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAppendUser_WithFiles(t *testing.T) {
	h := New()
	h.AppendUser("review these", "a.go", "b.go")

	turns := h.Turns()
	if len(turns) != 1 {
		t.Fatalf("len = %d, want 1", len(turns))
	}
	if turns[0].Role != RoleUser {
		t.Errorf("Role = %q, want %q", turns[0].Role, RoleUser)
	}
	text := turns[0].Text()
	if !strings.Contains(text, "review these") || !strings.Contains(text, "a.go, b.go") {
		t.Errorf("text = %q", text)
	}
}

func TestAppendAssistant_EmptyIsNoop(t *testing.T) {
	h := New()
	h.AppendAssistant()
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
}

func TestClearFromLastUser(t *testing.T) {
	h := New()
	h.AppendUser("first question")
	h.AppendAssistant(ToolCallBlock{ID: "tc-1", Name: "grep", Input: json.RawMessage(`{}`)})
	h.AppendToolResult("tc-1", "no matches", false)
	h.AppendAssistant(TextBlock{Text: "thinking"})
	h.AppendUser("second question")
	h.AppendAssistant(TextBlock{Text: "on it"})

	h.ClearFromLastUser()

	turns := h.Turns()
	if len(turns) != 4 {
		t.Fatalf("len = %d, want 4 (cut at second question)", len(turns))
	}
	last := turns[len(turns)-1]
	if last.Role != RoleAssistant || last.Text() != "thinking" {
		t.Errorf("last turn = %+v", last)
	}
}

func TestClearFromLastUser_SkipsToolResultTurns(t *testing.T) {
	h := New()
	h.AppendUser("question")
	h.AppendAssistant(ToolCallBlock{ID: "tc-1", Name: "ls", Input: json.RawMessage(`{}`)})
	h.AppendToolResult("tc-1", "files", false)

	h.ClearFromLastUser()

	// The tool-result turn is user-role but is not a user message; the cut
	// must land on the real question, emptying the history.
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
}

func TestClear(t *testing.T) {
	h := New()
	h.AppendUser("x")
	h.Clear()
	if h.Len() != 0 {
		t.Errorf("Len = %d, want 0", h.Len())
	}
}

func TestProjectForLLM_DropsOrphanedCall(t *testing.T) {
	h := New()
	h.AppendUser("go")
	h.AppendAssistant(
		TextBlock{Text: "let me check"},
		ToolCallBlock{ID: "tc-unanswered", Name: "grep", Input: json.RawMessage(`{}`)},
	)

	out := h.ProjectForLLM()
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	for _, b := range out[1].Blocks {
		if _, ok := b.(ToolCallBlock); ok {
			t.Error("orphaned tool call survived projection")
		}
	}
	if out[1].Text() != "let me check" {
		t.Errorf("assistant text = %q", out[1].Text())
	}
}

func TestProjectForLLM_DropsOrphanedResult(t *testing.T) {
	h := New()
	h.AppendUser("go")
	h.AppendToolResult("tc-ghost", "output", false)
	h.AppendAssistant(TextBlock{Text: "done"})

	out := h.ProjectForLLM()
	for _, turn := range out {
		for _, b := range turn.Blocks {
			if _, ok := b.(ToolResultBlock); ok {
				t.Error("orphaned tool result survived projection")
			}
		}
	}
}

func TestProjectForLLM_DropsEmptyTurnAfterOrphanRemoval(t *testing.T) {
	h := New()
	h.AppendUser("go")
	h.AppendAssistant(ToolCallBlock{ID: "tc-1", Name: "x", Input: json.RawMessage(`{}`)})

	out := h.ProjectForLLM()
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1, got %+v", len(out), out)
	}
	if out[0].Role != RoleUser {
		t.Errorf("Role = %q, want user", out[0].Role)
	}
}

func TestProjectForLLM_MergesConsecutiveUserTurns(t *testing.T) {
	h := New()
	h.AppendUser("first")
	h.AppendUser("second")

	out := h.ProjectForLLM()
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1 merged turn", len(out))
	}
	if out[0].Text() != "first\n\nsecond" {
		t.Errorf("merged text = %q", out[0].Text())
	}
}

func TestProjectForLLM_DoesNotMergeAcrossToolResults(t *testing.T) {
	h := New()
	h.AppendUser("go")
	h.AppendAssistant(ToolCallBlock{ID: "tc-1", Name: "ls", Input: json.RawMessage(`{}`)})
	h.AppendToolResult("tc-1", "files", false)
	h.AppendUser("now continue")

	out := h.ProjectForLLM()
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4: %+v", len(out), out)
	}
	if _, ok := out[2].Blocks[0].(ToolResultBlock); !ok {
		t.Errorf("turn 2 = %+v, want tool result", out[2])
	}
}

func TestProjectForLLM_SingleSystemHead(t *testing.T) {
	h := New()
	h.turns = append(h.turns,
		Turn{Role: RoleSystem, Blocks: []Block{TextBlock{Text: "you are helpful"}}},
		Turn{Role: RoleUser, Blocks: []Block{TextBlock{Text: "hi"}}},
		Turn{Role: RoleSystem, Blocks: []Block{TextBlock{Text: "smuggled"}}},
	)

	out := h.ProjectForLLM()
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].Role != RoleSystem || out[1].Role != RoleUser {
		t.Errorf("roles = %q, %q", out[0].Role, out[1].Role)
	}
}

func TestProjectForLLM_DropsBlankText(t *testing.T) {
	h := New()
	h.AppendUser("go")
	h.AppendAssistant(TextBlock{Text: "   \n"})

	out := h.ProjectForLLM()
	if len(out) != 1 {
		t.Errorf("len = %d, want 1", len(out))
	}
}

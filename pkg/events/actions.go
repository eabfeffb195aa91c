package events

import "encoding/json"

// Wire type tags for actions.
const (
	TypeMessage           = "message"
	TypeToolCall          = "tool_call"
	TypeComplete          = "complete"
	TypeFileRead          = "file_read"
	TypeFileWrite         = "file_write"
	TypeFileEdit          = "file_edit"
	TypeCmdRun            = "cmd_run"
	TypeIPythonRunCell    = "ipython_run_cell"
	TypeBrowseURL         = "browse_url"
	TypeBrowseInteractive = "browse_interactive"
	TypeMCPCall           = "mcp_call"
)

// Canonical tool names. Promotion upgrades generic tool calls with these
// names into their typed action variants.
const (
	ToolNameFileRead          = "file_read"
	ToolNameFileWrite         = "file_write"
	ToolNameFileEdit          = "file_edit"
	ToolNameCmdRun            = "cmd_run"
	ToolNameIPython           = "ipython_run_cell"
	ToolNameBrowseURL         = "browse_url"
	ToolNameBrowseInteractive = "browse_interactive"
	ToolNameThink             = "think"
	ToolNameComplete          = "complete"
	ToolNameMessageUser       = "message_user"
	ToolNameReturnToUser      = "return_control_to_user"
	ToolNameReturnToGeneral   = "return_control_to_general_agent"
)

// UsageMetrics records the LLM cost of producing an action.
type UsageMetrics struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost,omitempty"`
	LatencyMS        int64   `json:"latency_ms,omitempty"`
}

// ToolCallMetadata links an event back to the LLM response that produced
// the call. It rides on both the action and its observation, which is what
// lets the history projection pair them. RawResponse keeps the provider
// payload for audits and replays.
type ToolCallMetadata struct {
	FunctionName string          `json:"function_name,omitempty"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ModelName    string          `json:"model_name,omitempty"`
	RawResponse  json.RawMessage `json:"raw_response,omitempty"`
	Usage        *UsageMetrics   `json:"usage,omitempty"`
}

// CallInfo carries the fields every runnable action shares.
type CallInfo struct {
	ToolCallID   string            `json:"tool_call_id,omitempty"`
	Thought      string            `json:"thought,omitempty"`
	SecurityRisk SecurityRisk      `json:"security_risk,omitempty"`
	Metadata     *ToolCallMetadata `json:"tool_call_metadata,omitempty"`
}

// RunnableAction is an action the tool manager can dispatch. Call returns
// the canonical tool name and the JSON input the tool receives.
type RunnableAction interface {
	Action
	Call() (name string, input json.RawMessage)
	Info() *CallInfo
}

func (c *CallInfo) Info() *CallInfo { return c }

// MessageAction is an assistant message addressed to the user. When
// WaitForResponse is set the session parks until the user replies.
type MessageAction struct {
	Envelope
	Content         string `json:"content"`
	WaitForResponse bool   `json:"wait_for_response,omitempty"`
}

func (a *MessageAction) Type() string { return TypeMessage }
func (a *MessageAction) isAction()    {}

// CompleteAction marks a terminal turn. FinalAnswer is the text surfaced to
// the caller as the task result.
type CompleteAction struct {
	Envelope
	FinalAnswer string `json:"final_answer"`
	TaskDone    bool   `json:"task_done"`
}

func (a *CompleteAction) Type() string { return TypeComplete }
func (a *CompleteAction) isAction()    {}

// ToolCallAction is the generic form of a tool invocation: a registered tool
// name and an opaque JSON argument object. Calls whose names have a typed
// variant are promoted before they reach the log.
type ToolCallAction struct {
	Envelope
	CallInfo
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
}

func (a *ToolCallAction) Type() string { return TypeToolCall }
func (a *ToolCallAction) isAction()    {}

func (a *ToolCallAction) Call() (string, json.RawMessage) { return a.ToolName, a.ToolInput }

// FileReadAction reads a file inside the workspace. Line bounds are
// one-based and inclusive; zero values mean the whole file.
type FileReadAction struct {
	Envelope
	CallInfo
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
}

func (a *FileReadAction) Type() string { return TypeFileRead }
func (a *FileReadAction) isAction()    {}

func (a *FileReadAction) Call() (string, json.RawMessage) {
	return ToolNameFileRead, mustInput(map[string]any{
		"path": a.Path, "start_line": a.StartLine, "end_line": a.EndLine,
	})
}

// FileWriteAction writes Content to Path, creating parent directories.
type FileWriteAction struct {
	Envelope
	CallInfo
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (a *FileWriteAction) Type() string { return TypeFileWrite }
func (a *FileWriteAction) isAction()    {}

func (a *FileWriteAction) Call() (string, json.RawMessage) {
	return ToolNameFileWrite, mustInput(map[string]any{
		"path": a.Path, "content": a.Content,
	})
}

// FileEditAction replaces the first occurrence of OldText in Path with
// NewText. The edit fails if OldText is absent or ambiguous.
type FileEditAction struct {
	Envelope
	CallInfo
	Path    string `json:"path"`
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

func (a *FileEditAction) Type() string { return TypeFileEdit }
func (a *FileEditAction) isAction()    {}

func (a *FileEditAction) Call() (string, json.RawMessage) {
	return ToolNameFileEdit, mustInput(map[string]any{
		"path": a.Path, "old_text": a.OldText, "new_text": a.NewText,
	})
}

// CmdRunAction runs a shell command in the workspace. TimeoutSeconds of 0
// selects the executor default.
type CmdRunAction struct {
	Envelope
	CallInfo
	Command        string `json:"command"`
	Cwd            string `json:"cwd,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

func (a *CmdRunAction) Type() string { return TypeCmdRun }
func (a *CmdRunAction) isAction()    {}

func (a *CmdRunAction) Call() (string, json.RawMessage) {
	return ToolNameCmdRun, mustInput(map[string]any{
		"command": a.Command, "cwd": a.Cwd, "timeout_seconds": a.TimeoutSeconds,
	})
}

// IPythonRunCellAction executes a code cell in the session's interpreter.
type IPythonRunCellAction struct {
	Envelope
	CallInfo
	Code string `json:"code"`
}

func (a *IPythonRunCellAction) Type() string { return TypeIPythonRunCell }
func (a *IPythonRunCellAction) isAction()    {}

func (a *IPythonRunCellAction) Call() (string, json.RawMessage) {
	return ToolNameIPython, mustInput(map[string]any{"code": a.Code})
}

// BrowseURLAction fetches a page and returns its readable content.
type BrowseURLAction struct {
	Envelope
	CallInfo
	URL string `json:"url"`
}

func (a *BrowseURLAction) Type() string { return TypeBrowseURL }
func (a *BrowseURLAction) isAction()    {}

func (a *BrowseURLAction) Call() (string, json.RawMessage) {
	return ToolNameBrowseURL, mustInput(map[string]any{"url": a.URL})
}

// BrowseInteractiveAction drives a stateful browser with a small action DSL.
type BrowseInteractiveAction struct {
	Envelope
	CallInfo
	BrowserActions string `json:"browser_actions"`
}

func (a *BrowseInteractiveAction) Type() string { return TypeBrowseInteractive }
func (a *BrowseInteractiveAction) isAction()    {}

func (a *BrowseInteractiveAction) Call() (string, json.RawMessage) {
	return ToolNameBrowseInteractive, mustInput(map[string]any{"browser_actions": a.BrowserActions})
}

// MCPCallAction invokes a tool exposed by an external MCP server. The full
// registered name, including the server prefix, is preserved.
type MCPCallAction struct {
	Envelope
	CallInfo
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (a *MCPCallAction) Type() string { return TypeMCPCall }
func (a *MCPCallAction) isAction()    {}

func (a *MCPCallAction) Call() (string, json.RawMessage) { return a.ToolName, a.Arguments }

// PromoteToolCall upgrades a generic tool call to its typed action variant
// when the name has one. Unknown names and undecodable inputs keep the
// generic form; input validation happens at dispatch, not here.
func PromoteToolCall(name, callID string, input json.RawMessage, meta *ToolCallMetadata) RunnableAction {
	info := CallInfo{ToolCallID: callID, Metadata: meta}
	generic := &ToolCallAction{CallInfo: info, ToolName: name, ToolInput: input}

	var typed RunnableAction
	switch name {
	case ToolNameFileRead:
		typed = &FileReadAction{CallInfo: info}
	case ToolNameFileWrite:
		typed = &FileWriteAction{CallInfo: info}
	case ToolNameFileEdit:
		typed = &FileEditAction{CallInfo: info}
	case ToolNameCmdRun:
		typed = &CmdRunAction{CallInfo: info}
	case ToolNameIPython:
		typed = &IPythonRunCellAction{CallInfo: info}
	case ToolNameBrowseURL:
		typed = &BrowseURLAction{CallInfo: info}
	case ToolNameBrowseInteractive:
		typed = &BrowseInteractiveAction{CallInfo: info}
	default:
		return generic
	}
	if err := json.Unmarshal(input, typed); err != nil {
		return generic
	}
	return typed
}

// mustInput marshals a scalar-valued argument map. Marshaling such maps
// cannot fail.
func mustInput(args map[string]any) json.RawMessage {
	b, _ := json.Marshal(args)
	return b
}

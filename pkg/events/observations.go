package events

// Wire type tags for observations and control events.
const (
	TypeUserMessage  = "user_message"
	TypeToolResult   = "tool_result"
	TypeFileContent  = "file_content"
	TypeCmdOutput    = "cmd_output"
	TypeBrowseResult = "browse_result"
	TypeInterrupt    = "interrupt"
	TypeAgentError   = "agent_error"
	TypeTruncation   = "truncation"
)

// UserMessageObservation is input from the user. It is the only observation
// without a causing action.
type UserMessageObservation struct {
	Envelope
	Content string   `json:"content"`
	Files   []string `json:"files,omitempty"`
}

func (o *UserMessageObservation) Type() string { return TypeUserMessage }
func (o *UserMessageObservation) Cause() int64 { return 0 }

// ToolResultObservation is the generic outcome of a runnable action. Content
// is already truncated to the tool output limit when it arrives here.
type ToolResultObservation struct {
	Envelope
	CauseID      int64             `json:"cause"`
	ToolName     string            `json:"tool_name,omitempty"`
	ToolCallID   string            `json:"tool_call_id,omitempty"`
	Content      string            `json:"content"`
	Success      bool              `json:"success"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     *ToolCallMetadata `json:"tool_call_metadata,omitempty"`
}

func (o *ToolResultObservation) Type() string { return TypeToolResult }
func (o *ToolResultObservation) Cause() int64 { return o.CauseID }

// FileObservation is the typed result of a file read or write. Content holds
// the file text for reads and the acknowledgement line for writes.
type FileObservation struct {
	Envelope
	CauseID  int64             `json:"cause"`
	Path     string            `json:"path"`
	Content  string            `json:"content,omitempty"`
	Metadata *ToolCallMetadata `json:"tool_call_metadata,omitempty"`
}

func (o *FileObservation) Type() string { return TypeFileContent }
func (o *FileObservation) Cause() int64 { return o.CauseID }

// CmdOutputObservation is the typed result of a command run. Output holds
// interleaved stdout and stderr in arrival order.
type CmdOutputObservation struct {
	Envelope
	CauseID  int64             `json:"cause"`
	Command  string            `json:"command"`
	Output   string            `json:"output"`
	ExitCode int               `json:"exit_code"`
	Metadata *ToolCallMetadata `json:"tool_call_metadata,omitempty"`
}

func (o *CmdOutputObservation) Type() string { return TypeCmdOutput }
func (o *CmdOutputObservation) Cause() int64 { return o.CauseID }

// BrowseObservation is the typed result of a browse action.
type BrowseObservation struct {
	Envelope
	CauseID  int64             `json:"cause"`
	URL      string            `json:"url"`
	Content  string            `json:"content"`
	Metadata *ToolCallMetadata `json:"tool_call_metadata,omitempty"`
}

func (o *BrowseObservation) Type() string { return TypeBrowseResult }
func (o *BrowseObservation) Cause() int64 { return o.CauseID }

// InterruptObservation records a cancellation delivered mid-action. The
// interrupted action keeps running server-side until its own teardown; this
// observation is what the next turn sees.
type InterruptObservation struct {
	Envelope
	CauseID int64  `json:"cause"`
	Reason  string `json:"reason"`
}

func (o *InterruptObservation) Type() string { return TypeInterrupt }
func (o *InterruptObservation) Cause() int64 { return o.CauseID }

// ErrorObservation records a failure surfaced to the session: an exhausted
// LLM retry, a turn-limit stop, or an internal controller fault. Kind is one
// of the ErrKind constants.
type ErrorObservation struct {
	Envelope
	CauseID int64  `json:"cause,omitempty"`
	Kind    string `json:"error_kind"`
	Message string `json:"message"`
}

func (o *ErrorObservation) Type() string { return TypeAgentError }
func (o *ErrorObservation) Cause() int64 { return o.CauseID }

// TruncationEvent marks a context rewind. Events with FromID <= id < this
// event's id are excluded from the LLM projection from here on. The durable
// log itself is never rewritten.
type TruncationEvent struct {
	Envelope
	FromID  int64  `json:"from_id"`
	Summary string `json:"summary,omitempty"`
}

func (e *TruncationEvent) Type() string { return TypeTruncation }

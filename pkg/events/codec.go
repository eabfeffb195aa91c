package events

import (
	"encoding/json"
	"fmt"
)

// decoders maps wire type tags to empty variants for Unmarshal.
var decoders = map[string]func() Event{
	TypeMessage:           func() Event { return &MessageAction{} },
	TypeComplete:          func() Event { return &CompleteAction{} },
	TypeToolCall:          func() Event { return &ToolCallAction{} },
	TypeFileRead:          func() Event { return &FileReadAction{} },
	TypeFileWrite:         func() Event { return &FileWriteAction{} },
	TypeFileEdit:          func() Event { return &FileEditAction{} },
	TypeCmdRun:            func() Event { return &CmdRunAction{} },
	TypeIPythonRunCell:    func() Event { return &IPythonRunCellAction{} },
	TypeBrowseURL:         func() Event { return &BrowseURLAction{} },
	TypeBrowseInteractive: func() Event { return &BrowseInteractiveAction{} },
	TypeMCPCall:           func() Event { return &MCPCallAction{} },
	TypeUserMessage:       func() Event { return &UserMessageObservation{} },
	TypeToolResult:        func() Event { return &ToolResultObservation{} },
	TypeFileContent:       func() Event { return &FileObservation{} },
	TypeCmdOutput:         func() Event { return &CmdOutputObservation{} },
	TypeBrowseResult:      func() Event { return &BrowseObservation{} },
	TypeInterrupt:         func() Event { return &InterruptObservation{} },
	TypeAgentError:        func() Event { return &ErrorObservation{} },
	TypeTruncation:        func() Event { return &TruncationEvent{} },
}

// Marshal encodes an event as a single JSON object with a "type"
// discriminator alongside the envelope and variant fields.
func Marshal(e Event) ([]byte, error) {
	if u, ok := e.(*UnknownEvent); ok {
		// Round-trip unknown events untouched.
		return append([]byte(nil), u.Raw...), nil
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type(), err)
	}
	head, err := json.Marshal(struct {
		Type string `json:"type"`
	}{e.Type()})
	if err != nil {
		return nil, err
	}
	if len(body) <= 2 {
		return head, nil
	}
	out := append(head[:len(head)-1], ',')
	return append(out, body[1:]...), nil
}

// Unmarshal decodes a single event. Unrecognized type tags decode into
// UnknownEvent so that logs written by newer builds still load.
func Unmarshal(data []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("decode event: missing type tag")
	}

	ctor, ok := decoders[probe.Type]
	if !ok {
		u := &UnknownEvent{Kind: probe.Type, Raw: append([]byte(nil), data...)}
		if err := json.Unmarshal(data, &u.Envelope); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", probe.Type, err)
		}
		return u, nil
	}
	e := ctor()
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", probe.Type, err)
	}
	return e, nil
}

// MarshalLog encodes a log as a JSON array, one object per event.
func MarshalLog(log []Event) ([]byte, error) {
	parts := make([]json.RawMessage, len(log))
	for i, ev := range log {
		b, err := Marshal(ev)
		if err != nil {
			return nil, err
		}
		parts[i] = b
	}
	return json.Marshal(parts)
}

// UnmarshalLog decodes a JSON array produced by MarshalLog.
func UnmarshalLog(data []byte) ([]Event, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("decode event log: %w", err)
	}
	out := make([]Event, len(parts))
	for i, p := range parts {
		ev, err := Unmarshal(p)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out[i] = ev
	}
	return out, nil
}

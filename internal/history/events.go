package history

import (
	"fmt"

	"github.com/haasonsaas/conductor/pkg/events"
)

// FromEvents rebuilds a History from a session's event log. Hidden events
// and ranges rewound by truncation markers are excluded; a marker carrying a
// summary contributes a synthetic user turn in place of the span it rewound.
func FromEvents(log []events.Event) *History {
	h := New()
	spans := events.RewoundSpans(log)

	// Fallback pairing for observations recorded without call metadata.
	callIDs := make(map[int64]string)
	for _, ev := range log {
		if ra, ok := ev.(events.RunnableAction); ok {
			callIDs[ra.Header().ID] = ra.Info().ToolCallID
		}
	}

	for _, ev := range log {
		hdr := ev.Header()
		if hdr.Hidden {
			continue
		}
		covered := false
		for _, s := range spans {
			if s.Covers(hdr.ID) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}

		switch e := ev.(type) {
		case *events.TruncationEvent:
			if e.Summary != "" {
				h.AppendUser("[Conversation summary]\n" + e.Summary)
			}

		case *events.UserMessageObservation:
			h.AppendUser(e.Content, e.Files...)

		case *events.MessageAction:
			h.AppendAssistant(TextBlock{Text: e.Content})

		case *events.CompleteAction:
			if e.FinalAnswer != "" {
				h.AppendAssistant(TextBlock{Text: e.FinalAnswer})
			}

		case events.RunnableAction:
			name, input := e.Call()
			var blocks []Block
			if thought := e.Info().Thought; thought != "" {
				blocks = append(blocks, TextBlock{Text: thought})
			}
			blocks = append(blocks, ToolCallBlock{ID: e.Info().ToolCallID, Name: name, Input: input})
			h.AppendAssistant(blocks...)

		case *events.ToolResultObservation:
			content := e.Content
			if !e.Success && e.ErrorMessage != "" {
				if content != "" {
					content += "\n"
				}
				content += "Error: " + e.ErrorMessage
			}
			h.AppendToolResult(resultCallID(e.ToolCallID, e.Metadata, callIDs, e.CauseID), content, !e.Success)

		case *events.FileObservation:
			h.AppendToolResult(resultCallID("", e.Metadata, callIDs, e.CauseID), e.Content, false)

		case *events.CmdOutputObservation:
			content := e.Output
			if e.ExitCode != 0 {
				content += fmt.Sprintf("\n[command exited with code %d]", e.ExitCode)
			}
			h.AppendToolResult(resultCallID("", e.Metadata, callIDs, e.CauseID), content, e.ExitCode != 0)

		case *events.BrowseObservation:
			h.AppendToolResult(resultCallID("", e.Metadata, callIDs, e.CauseID), e.Content, false)

		case *events.InterruptObservation:
			// The interrupted call still needs an answer or the provider
			// rejects the history.
			if id := callIDs[e.CauseID]; id != "" {
				h.AppendToolResult(id, "[operation interrupted: "+e.Reason+"]", true)
			} else {
				h.AppendUser("[interrupted: " + e.Reason + "]")
			}

		case *events.ErrorObservation:
			h.AppendUser(fmt.Sprintf("[error: %s] %s", e.Kind, e.Message))

		default:
			// Unknown event types carry no projectable content.
		}
	}
	return h
}

func resultCallID(direct string, meta *events.ToolCallMetadata, byAction map[int64]string, cause int64) string {
	if direct != "" {
		return direct
	}
	if meta != nil && meta.ToolCallID != "" {
		return meta.ToolCallID
	}
	return byAction[cause]
}

package agent

import (
	"sync"

	"github.com/haasonsaas/conductor/pkg/events"
)

// ActionCollector buffers actions produced by tools during a dispatch,
// the message_user MessageAction in particular. Wire Collect as the tool
// manager's Emitter; the controller drains the buffer after each dispatch
// and records the actions ahead of the tool's observation.
type ActionCollector struct {
	mu      sync.Mutex
	actions []events.Action
}

// Collect buffers one action.
func (c *ActionCollector) Collect(action events.Action) {
	c.mu.Lock()
	c.actions = append(c.actions, action)
	c.mu.Unlock()
}

// Drain returns the buffered actions and empties the buffer.
func (c *ActionCollector) Drain() []events.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.actions
	c.actions = nil
	return out
}

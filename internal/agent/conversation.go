package agent

import (
	"fmt"

	"github.com/agentforge/core/pkg/models"
)

// Conversation is an immutable, append-only sequence of messages. Every
// mutator returns a new Conversation backed by a fresh copy of the
// underlying slice, so a caller holding an older Conversation value never
// observes a later append.
type Conversation struct {
	messages []models.Message
}

// NewConversation builds a Conversation from an optional leading system
// message. Passing an empty prompt omits the system message entirely.
func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{}
	if systemPrompt != "" {
		c.messages = append(c.messages, models.Message{
			Role:    models.RoleSystem,
			Content: systemPrompt,
			Pinned:  true,
		})
	}
	return c
}

// Messages returns the conversation's messages. The returned slice must not
// be mutated by the caller; treat it as read-only.
func (c *Conversation) Messages() []models.Message {
	return c.messages
}

// Len returns the number of messages in the conversation.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// validateAppend enforces the structural invariants from spec.md §3: an
// assistant message must carry content, tool calls, or both; a tool message
// must carry a ToolCallID that matches an outstanding assistant tool call.
func (c *Conversation) validateAppend(m models.Message) error {
	switch m.Role {
	case models.RoleAssistant:
		if m.Content == "" && len(m.ToolCalls) == 0 {
			return fmt.Errorf("agent: assistant message must have content or tool_calls")
		}
	case models.RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("agent: tool message must set tool_call_id")
		}
		if !c.hasOutstandingToolCall(m.ToolCallID) {
			return fmt.Errorf("agent: tool message tool_call_id %q has no matching assistant tool_call", m.ToolCallID)
		}
	}
	return nil
}

// hasOutstandingToolCall reports whether id was requested by the most
// recent assistant message and has not yet been answered by a tool message.
func (c *Conversation) hasOutstandingToolCall(id string) bool {
	answered := make(map[string]bool)
	for i := len(c.messages) - 1; i >= 0; i-- {
		m := c.messages[i]
		if m.Role == models.RoleTool {
			answered[m.ToolCallID] = true
			continue
		}
		if m.Role == models.RoleAssistant {
			for _, tc := range m.ToolCalls {
				if tc.ID == id {
					return !answered[id]
				}
			}
			return false
		}
	}
	return false
}

// Validate checks every structural invariant spec.md §4.1 requires across
// the whole conversation, not just the incremental check validateAppend
// performs on each append: every assistant message must carry content or
// tool_calls, every tool message must answer an outstanding assistant
// tool_call, and no tool_call_id may be answered more than once. Useful
// after reconstructing a Conversation from a trace or other external
// source, where the incremental append-time checks were never run.
func (c *Conversation) Validate() error {
	requested := make(map[string]bool)
	answered := make(map[string]bool)

	for i, m := range c.messages {
		switch m.Role {
		case models.RoleAssistant:
			if m.Content == "" && len(m.ToolCalls) == 0 {
				return &ValidationError{
					Field:   fmt.Sprintf("messages[%d]", i),
					Message: "assistant message must have content or tool_calls",
				}
			}
			for _, tc := range m.ToolCalls {
				requested[tc.ID] = true
			}

		case models.RoleTool:
			if m.ToolCallID == "" {
				return &ValidationError{
					Field:   fmt.Sprintf("messages[%d]", i),
					Message: "tool message must set tool_call_id",
				}
			}
			if !requested[m.ToolCallID] {
				return &ValidationError{
					Field:   fmt.Sprintf("messages[%d]", i),
					Message: fmt.Sprintf("tool_call_id %q has no matching assistant tool_call", m.ToolCallID),
				}
			}
			if answered[m.ToolCallID] {
				return &ValidationError{
					Field:   fmt.Sprintf("messages[%d]", i),
					Message: fmt.Sprintf("tool_call_id %q answered more than once", m.ToolCallID),
				}
			}
			answered[m.ToolCallID] = true
		}
	}
	return nil
}

// appendCOW returns a new Conversation with m appended, copying the
// underlying slice so prior Conversation values remain unaffected.
func (c *Conversation) appendCOW(m models.Message) *Conversation {
	next := make([]models.Message, len(c.messages), len(c.messages)+1)
	copy(next, c.messages)
	next = append(next, m)
	return &Conversation{messages: next}
}

// AppendUser appends a user turn and returns the resulting conversation.
func (c *Conversation) AppendUser(content string) *Conversation {
	return c.appendCOW(models.Message{Role: models.RoleUser, Content: content})
}

// AppendAssistant appends an assistant turn. Returns an error if content
// and toolCalls are both empty, violating spec.md §3's assistant invariant.
func (c *Conversation) AppendAssistant(content string, toolCalls []models.ToolCall) (*Conversation, error) {
	m := models.Message{Role: models.RoleAssistant, Content: content, ToolCalls: toolCalls}
	if err := c.validateAppend(m); err != nil {
		return c, err
	}
	return c.appendCOW(m), nil
}

// AppendToolResult appends a tool message answering toolCallID. Returns an
// error if toolCallID does not match an outstanding assistant tool call.
func (c *Conversation) AppendToolResult(toolCallID, content string) (*Conversation, error) {
	m := models.Message{Role: models.RoleTool, ToolCallID: toolCallID, Content: content}
	if err := c.validateAppend(m); err != nil {
		return c, err
	}
	return c.appendCOW(m), nil
}

// PinMessage marks the message at index as pinned, exempting it from
// context-window compaction (spec.md §4.6). Returns a new Conversation;
// the pin itself is a value change, not an append, so it copies in place
// rather than sharing the tail with the receiver.
func (c *Conversation) PinMessage(index int) (*Conversation, error) {
	if index < 0 || index >= len(c.messages) {
		return c, fmt.Errorf("agent: pin index %d out of range [0,%d)", index, len(c.messages))
	}
	next := make([]models.Message, len(c.messages))
	copy(next, c.messages)
	next[index].Pinned = true
	return &Conversation{messages: next}, nil
}

// OutstandingToolCalls returns the tool calls from the trailing assistant
// message that have not yet been answered by a tool message, in the order
// the assistant requested them. Returns nil if the trailing message is not
// an unanswered assistant tool-call turn.
func (c *Conversation) OutstandingToolCalls() []models.ToolCall {
	if len(c.messages) == 0 {
		return nil
	}
	last := c.messages[len(c.messages)-1]
	if last.Role != models.RoleAssistant || len(last.ToolCalls) == 0 {
		return nil
	}
	return last.ToolCalls
}

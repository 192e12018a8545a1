package llm

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation sent to a Backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant builds an assistant message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Builder accumulates messages in order. Context providers append to it.
type Builder struct {
	messages []Message
}

// Add appends a message.
func (b *Builder) Add(msg Message) *Builder {
	b.messages = append(b.messages, msg)
	return b
}

// AddUser appends a user message.
func (b *Builder) AddUser(content string) *Builder {
	return b.Add(User(content))
}

// Len reports the number of accumulated messages.
func (b *Builder) Len() int { return len(b.messages) }

// Messages returns a copy of the accumulated messages.
func (b *Builder) Messages() []Message {
	if len(b.messages) == 0 {
		return nil
	}
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

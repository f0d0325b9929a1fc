package turns

import (
	"fmt"
	"strings"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one message of a conversation, tagged with the role of its speaker.
// Turns are values and are never modified once appended to a Conversation.
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

func NewUserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: text}
}

func NewAssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Content: text}
}

func (t Turn) String() string {
	return fmt.Sprintf("[%s]: %s", t.Role, strings.TrimRight(t.Content, "\n"))
}

// Greeting returns the assistant turn every fresh conversation starts with.
func Greeting(userName string) Turn {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		return NewAssistantTurn("Greetings! How Can I Help?")
	}
	return NewAssistantTurn(fmt.Sprintf("Greetings, %s! How Can I Help?", userName))
}

// Conversation is an ordered, chronological sequence of turns.
type Conversation []Turn

// NewConversation seeds a conversation with a single greeting turn.
func NewConversation(greeting Turn) Conversation {
	return Conversation{greeting}
}

// Append returns a new conversation with t added at the end. The receiver's
// backing array is never shared with the result, so snapshots handed out
// earlier cannot observe the append.
func (c Conversation) Append(t Turn) Conversation {
	out := make(Conversation, len(c), len(c)+1)
	copy(out, c)
	return append(out, t)
}

func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	return clone.Clone(c).(Conversation)
}

func (c Conversation) Last() (Turn, bool) {
	if len(c) == 0 {
		return Turn{}, false
	}
	return c[len(c)-1], true
}

// HasUserInput reports whether the conversation holds more than its initial greeting.
func (c Conversation) HasUserInput() bool {
	return len(c) > 1
}

func (c Conversation) Validate() error {
	if len(c) == 0 {
		return errors.New("conversation is empty")
	}
	for i, t := range c {
		if !t.Role.IsValid() {
			return errors.Errorf("turn %d has invalid role %q", i, t.Role)
		}
	}
	return nil
}

// LastUserTurn returns the most recent user turn, if any.
func (c Conversation) LastUserTurn() (Turn, bool) {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == RoleUser {
			return c[i], true
		}
	}
	return Turn{}, false
}

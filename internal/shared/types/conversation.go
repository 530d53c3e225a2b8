package types

// Mode scopes a conversation thread.
type Mode string

const (
	ModeChat    Mode = "chat"
	ModeActions Mode = "actions"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeChat || m == ModeActions
}

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// CommandProposal is an executable suggestion emitted in actions mode.
type CommandProposal struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

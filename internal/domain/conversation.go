package domain

// Role tags a single utterance in a transcript.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Utterance is one side of a conversation turn.
type Utterance struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Turn is a human utterance paired with the model reply that answered it.
// Turns are appended to memory as a unit and never modified afterwards.
type Turn struct {
	Human string
	AI    string
}

// Package debate defines the debate vocabulary: speakers, message roles,
// fixed directives and the per-speaker view of history.
package debate

import (
	"fmt"

	"github.com/OnslaughtSnail/rostra/kernel/model"
)

// Speaker is one of the two fixed debate sides.
type Speaker int

const (
	SpeakerA Speaker = iota
	SpeakerB
)

// Next returns the opposing speaker.
func (s Speaker) Next() Speaker {
	if s == SpeakerA {
		return SpeakerB
	}
	return SpeakerA
}

// Role returns the message role this speaker authors.
func (s Speaker) Role() Role {
	if s == SpeakerA {
		return RoleSpeakerA
	}
	return RoleSpeakerB
}

func (s Speaker) String() string {
	if s == SpeakerA {
		return "speaker_a"
	}
	return "speaker_b"
}

// Role tags a debate message author. Values are the wire names clients
// render by.
type Role string

const (
	RoleUser     Role = "user"
	RoleSpeakerA Role = "bot1"
	RoleSpeakerB Role = "bot2"
)

// Message is one entry in a debate transcript.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const (
	DirectiveFor     = "You are AI Debate Bot A, specializing in arguing FOR the given topic. Your goal is to present compelling, logical arguments supporting the user's initial idea. Maintain a persuasive, articulate, and slightly formal tone. Do not acknowledge the other AI directly. Focus solely on building a strong case for your side. Keep your responses concise and to the point."
	DirectiveAgainst = "You are AI Debate Bot B, specializing in arguing AGAINST the given topic. Your goal is to present counter-arguments and rebuttals to the previous statement, aiming to weaken the opposing stance. Maintain a critical, analytical, and slightly challenging tone. Do not acknowledge the other AI directly. Focus solely on dismantling the opposing case. Keep your responses concise and to the point."
)

// Directive returns the fixed system directive for speaker.
func Directive(s Speaker) string {
	if s == SpeakerA {
		return DirectiveFor
	}
	return DirectiveAgainst
}

// OpeningMessage is the user prompt synthesized from topic.
func OpeningMessage(topic string) string {
	return fmt.Sprintf("Let's debate the topic: %q", topic)
}

// History renders messages from self's point of view: self's own turns are
// assistant turns, everything else (the user and the opponent) is user
// input. Each side therefore keeps arguing its own position instead of
// adopting a blended persona.
func History(messages []Message, self Speaker) []model.Message {
	own := self.Role()
	out := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		role := model.RoleUser
		if m.Role == own {
			role = model.RoleAssistant
		}
		out = append(out, model.Message{Role: role, Text: m.Content})
	}
	return out
}

// Request builds the model request for self's next turn.
func Request(messages []Message, self Speaker, maxOutputTokens int) *model.Request {
	history := History(messages, self)
	out := make([]model.Message, 0, len(history)+1)
	out = append(out, model.Message{Role: model.RoleSystem, Text: Directive(self)})
	out = append(out, history...)
	return &model.Request{Messages: out, MaxOutputTokens: maxOutputTokens}
}

// Participant binds a speaker to the model that argues its side.
type Participant struct {
	Speaker Speaker
	LLM     model.LLM
	// Provider is the display name used in error events.
	Provider string
}

// Lineup is the pair of participants for a debate.
type Lineup struct {
	A Participant
	B Participant
}

// For returns the participant playing s.
func (l Lineup) For(s Speaker) Participant {
	if s == SpeakerA {
		return l.A
	}
	return l.B
}

// Validate reports a lineup missing a model.
func (l Lineup) Validate() error {
	if l.A.LLM == nil {
		return fmt.Errorf("debate: speaker A model is nil")
	}
	if l.B.LLM == nil {
		return fmt.Errorf("debate: speaker B model is nil")
	}
	return nil
}

package models

import "time"

// Phase is one ordered stage of the study pipeline. Sessions only ever move
// forward through the sequence, one step at a time.
type Phase int

const (
	PhaseConsent Phase = iota
	PhaseDemographics
	PhasePersonality
	PhaseConversation
	PhaseEvaluation
	PhaseDecision
	PhaseFeedback
	PhaseComplete
)

var phaseNames = [...]string{
	"consent",
	"demographics",
	"personality",
	"conversation",
	"evaluation",
	"decision",
	"feedback",
	"complete",
}

func (p Phase) String() string {
	if p < PhaseConsent || p > PhaseComplete {
		return "unknown"
	}
	return phaseNames[p]
}

// Next returns the immediate successor phase. Complete is terminal.
func (p Phase) Next() Phase {
	if p >= PhaseComplete {
		return PhaseComplete
	}
	return p + 1
}

// Turn is one exchange unit in the conversation log. The first turn of every
// session is bot-only (the welcome message). BotSentences stays nil until
// generation completes for the turn.
type Turn struct {
	Index        int      `json:"index"`
	UserMessage  string   `json:"user_message,omitempty"`
	BotSentences []string `json:"bot_sentences,omitempty"`
	Revealed     bool     `json:"revealed"`
}

// Timer records the conversation window. Set exactly once, when the first
// user-authored turn is appended, never at phase entry.
type Timer struct {
	StartedAt   time.Time `json:"started_at"`
	ForcedEndAt time.Time `json:"forced_end_at"`
}

// Demographics is the validated answer bundle of the demographics phase,
// including the three yes/no attitude items collected on the same page.
type Demographics struct {
	Age        int    `json:"age"`
	Gender     string `json:"gender"`
	Education  string `json:"education"`
	Employment string `json:"employment"`

	AttitudeProblem   string `json:"attitude_problem"`
	AttitudeWelfare   string `json:"attitude_welfare"`
	AttitudeWouldSign string `json:"attitude_would_sign"`
}

// Personality holds the ten TIPI item responses, 1..7.
type Personality struct {
	Items []int `json:"items"`
}

// ItemsOrNil is a nil-safe accessor for unanswered phases.
func (p *Personality) ItemsOrNil() []int {
	if p == nil {
		return nil
	}
	return p.Items
}

// Evaluation holds the eleven BUS item responses, 1..5.
type Evaluation struct {
	Items []int `json:"items"`
}

// ItemsOrNil is a nil-safe accessor for unanswered phases.
func (e *Evaluation) ItemsOrNil() []int {
	if e == nil {
		return nil
	}
	return e.Items
}

// Decision is the binary petition choice.
type Decision struct {
	Choice string `json:"choice"` // "yes" | "no"
}

// Feedback is optional free text; always valid.
type Feedback struct {
	Negative string `json:"negative"`
	Positive string `json:"positive"`
}

// Answers collects one validated bundle per completed phase. A bundle is
// write-once per phase but may be overwritten while the phase is current.
type Answers struct {
	Demographics *Demographics `json:"demographics,omitempty"`
	Personality  *Personality  `json:"personality,omitempty"`
	Evaluation   *Evaluation   `json:"evaluation,omitempty"`
	Decision     *Decision     `json:"decision,omitempty"`
	Feedback     *Feedback     `json:"feedback,omitempty"`
}

// Session is the unit of work for one participant. It is created on first
// contact, exclusively owned by the state machine, and never deleted; on
// reaching Complete it is retired and no further mutation occurs.
type Session struct {
	ParticipantID string    `json:"participant_id"`
	Condition     string    `json:"condition"`
	Phase         Phase     `json:"phase"`
	StartedAt     time.Time `json:"started_at"`

	// UpdatedAt advances on every mutation. The persisted row derives the
	// total study duration from it, keeping snapshot construction a pure
	// function of the session.
	UpdatedAt time.Time `json:"updated_at"`

	Answers      Answers `json:"answers"`
	Conversation []*Turn `json:"conversation"`
	Timer        *Timer  `json:"timer,omitempty"`

	UserMessages int `json:"user_messages"`
	BotMessages  int `json:"bot_messages"`

	ConversationEndedAt time.Time `json:"conversation_ended_at,omitempty"`

	// RowHandle references the persisted row. Zero until the first
	// successful append; its presence distinguishes "not yet persisted"
	// from "persisted".
	RowHandle int64 `json:"row_handle,omitempty"`
}

// LastTurn returns the most recent turn, or nil for an empty log.
func (s *Session) LastTurn() *Turn {
	if len(s.Conversation) == 0 {
		return nil
	}
	return s.Conversation[len(s.Conversation)-1]
}

// Researcher is an operator account with access to study exports.
type Researcher struct {
	ID        string
	Email     string
	PassHash  []byte
	CreatedAt time.Time
}

package study

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kfilewski/conversbot/internal/config"
	"github.com/kfilewski/conversbot/internal/logger"
	"github.com/kfilewski/conversbot/internal/models"
	"github.com/kfilewski/conversbot/internal/rowstore"
)

// Responder is the state machine's view of the conversation engine.
type Responder interface {
	Respond(ctx context.Context, cond config.Condition, history []*models.Turn) []string
}

// Assigner is the state machine's view of the group balancer.
type Assigner interface {
	Assign(ctx context.Context) string
}

// DemographicsForm is the raw demographics submission. Age arrives as text
// and is validated here, matching the free-text input it came from.
type DemographicsForm struct {
	Age               string `json:"age"`
	Gender            string `json:"gender"`
	Education         string `json:"education"`
	Employment        string `json:"employment"`
	AttitudeProblem   string `json:"attitude_problem"`
	AttitudeWelfare   string `json:"attitude_welfare"`
	AttitudeWouldSign string `json:"attitude_would_sign"`
}

// AdvanceRequest carries the answer bundle for the phase being left. Only
// the field matching the session's current phase is consulted.
type AdvanceRequest struct {
	Demographics     *DemographicsForm `json:"demographics,omitempty"`
	Personality      []int             `json:"personality,omitempty"`
	Evaluation       []int             `json:"evaluation,omitempty"`
	Decision         string            `json:"decision,omitempty"`
	FeedbackNegative string            `json:"feedback_negative,omitempty"`
	FeedbackPositive string            `json:"feedback_positive,omitempty"`
}

// AdvanceResult reports the phase entered and, when the snapshot write
// failed, the persistence error. A persist error never blocks the advance.
type AdvanceResult struct {
	Phase        models.Phase `json:"phase"`
	PersistError string       `json:"persist_error,omitempty"`
}

type sessionEntry struct {
	mu sync.Mutex
	s  *models.Session
}

// SessionService owns the in-memory session registry and drives each
// session through the phase sequence. Every phase transition persists a
// full snapshot row; the first transition appends, later ones overwrite.
type SessionService struct {
	log      *logger.Logger
	store    rowstore.RowStore
	engine   Responder
	balancer Assigner
	study    *config.Study
	gate     *TimerGate
	now      func() time.Time
	idGen    func() string

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

func NewSessionService(log *logger.Logger, store rowstore.RowStore, engine Responder, balancer Assigner, study *config.Study) *SessionService {
	return &SessionService{
		log:      log.With("service", "session"),
		store:    store,
		engine:   engine,
		balancer: balancer,
		study:    study,
		gate:     NewTimerGate(study.MinDuration(), study.MaxDuration()),
		now:      time.Now,
		idGen:    func() string { return shortID(12) },
		sessions: make(map[string]*sessionEntry),
	}
}

func shortID(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > 0 && n < len(id) {
		id = id[:n]
	}
	return id
}

// Create assigns a condition, opens the session in the consent phase and
// seeds the conversation with the condition's welcome turn. The welcome
// counts as the first bot message.
func (svc *SessionService) Create(ctx context.Context) *models.Session {
	now := svc.now()
	key := svc.balancer.Assign(ctx)
	cond := svc.study.Condition(key)

	welcome := SegmentSentences(cond.Welcome)
	s := &models.Session{
		ParticipantID: svc.idGen(),
		Condition:     cond.Key,
		Phase:         models.PhaseConsent,
		StartedAt:     now,
		UpdatedAt:     now,
		Conversation: []*models.Turn{
			{Index: 0, BotSentences: welcome},
		},
		BotMessages: 1,
	}

	svc.mu.Lock()
	svc.sessions[s.ParticipantID] = &sessionEntry{s: s}
	svc.mu.Unlock()

	svc.log.Info("session created", "participant", s.ParticipantID, "condition", s.Condition)
	return cloneSession(s)
}

// cloneSession copies everything a renderer walks. Answer bundles are
// replaced wholesale on mutation and never edited in place, so sharing
// their pointers is safe; turns and the timer are mutated and must be
// copied.
func cloneSession(s *models.Session) *models.Session {
	out := *s
	out.Conversation = make([]*models.Turn, len(s.Conversation))
	for i, t := range s.Conversation {
		out.Conversation[i] = cloneTurn(t)
	}
	if s.Timer != nil {
		timer := *s.Timer
		out.Timer = &timer
	}
	return &out
}

func cloneTurn(t *models.Turn) *models.Turn {
	out := *t
	if t.BotSentences != nil {
		out.BotSentences = append([]string(nil), t.BotSentences...)
	}
	return &out
}

func (svc *SessionService) entry(id string) (*sessionEntry, error) {
	svc.mu.RLock()
	e, ok := svc.sessions[id]
	svc.mu.RUnlock()
	if !ok {
		return nil, NewNotFoundError("session not found")
	}
	return e, nil
}

// Get returns a detached copy of the session for rendering. The live
// session stays behind the entry lock; a reply landing mid-conversation
// must never be observable through a view a handler is still walking.
func (svc *SessionService) Get(id string) (*models.Session, error) {
	e, err := svc.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(e.s), nil
}

// ConditionName resolves the display name of a condition key.
func (svc *SessionService) ConditionName(key string) string {
	return svc.study.Condition(key).Name
}

// Timer evaluates the conversation window for the session right now.
func (svc *SessionService) Timer(id string) (GateView, error) {
	e, err := svc.entry(id)
	if err != nil {
		return GateView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return svc.gate.Evaluate(svc.now(), e.s.Timer), nil
}

// Advance validates the submitted bundle against the current phase, applies
// it, writes the full snapshot and moves to the next phase. Validation
// failures leave the session untouched. A snapshot write failure is
// reported in the result but does not hold the participant back.
func (svc *SessionService) Advance(ctx context.Context, id string, req *AdvanceRequest) (*AdvanceResult, error) {
	e, err := svc.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.s
	if s.Phase == models.PhaseComplete {
		return nil, NewConflictError("the study is already complete")
	}
	if req == nil {
		req = &AdvanceRequest{}
	}

	now := svc.now()
	if err := svc.applyPhase(s, req, now); err != nil {
		return nil, err
	}
	s.UpdatedAt = now

	persistErr := svc.persist(ctx, s)
	s.Phase = s.Phase.Next()
	svc.log.Info("phase advanced", "participant", s.ParticipantID, "phase", s.Phase.String())
	return &AdvanceResult{Phase: s.Phase, PersistError: persistErr}, nil
}

func (svc *SessionService) applyPhase(s *models.Session, req *AdvanceRequest, now time.Time) error {
	switch s.Phase {
	case models.PhaseConsent:
		return nil
	case models.PhaseDemographics:
		d, err := svc.validateDemographics(req.Demographics)
		if err != nil {
			return err
		}
		s.Answers.Demographics = d
		return nil
	case models.PhasePersonality:
		items, err := validateItems(req.Personality, rowstore.PersonalityItemCount, 1, 7, "personality")
		if err != nil {
			return err
		}
		s.Answers.Personality = &models.Personality{Items: items}
		return nil
	case models.PhaseConversation:
		view := svc.gate.Evaluate(now, s.Timer)
		if !view.CanEnd {
			return NewInvalidError("the conversation cannot be ended yet")
		}
		s.ConversationEndedAt = now
		return nil
	case models.PhaseEvaluation:
		items, err := validateItems(req.Evaluation, rowstore.EvaluationItemCount, 1, 5, "evaluation")
		if err != nil {
			return err
		}
		s.Answers.Evaluation = &models.Evaluation{Items: items}
		return nil
	case models.PhaseDecision:
		choice := strings.ToLower(strings.TrimSpace(req.Decision))
		if choice != "yes" && choice != "no" {
			return NewInvalidError("please choose yes or no")
		}
		s.Answers.Decision = &models.Decision{Choice: choice}
		return nil
	case models.PhaseFeedback:
		s.Answers.Feedback = &models.Feedback{
			Negative: strings.TrimSpace(req.FeedbackNegative),
			Positive: strings.TrimSpace(req.FeedbackPositive),
		}
		return nil
	}
	return NewConflictError("the study is already complete")
}

func (svc *SessionService) validateDemographics(form *DemographicsForm) (*models.Demographics, error) {
	if form == nil {
		return nil, NewInvalidError("please fill in all the fields")
	}
	required := []struct{ name, value string }{
		{"age", form.Age},
		{"gender", form.Gender},
		{"education", form.Education},
		{"employment", form.Employment},
		{"attitude_problem", form.AttitudeProblem},
		{"attitude_welfare", form.AttitudeWelfare},
		{"attitude_would_sign", form.AttitudeWouldSign},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return nil, NewInvalidError("please fill in all the fields")
		}
	}
	age, err := strconv.Atoi(strings.TrimSpace(form.Age))
	if err != nil {
		return nil, NewInvalidError("age must be a whole number")
	}
	if age < svc.study.Age.Min {
		return nil, NewInvalidError(fmt.Sprintf("you must be at least %d years old to take part", svc.study.Age.Min))
	}
	if age > svc.study.Age.Max {
		return nil, NewInvalidError(fmt.Sprintf("participants over %d years old cannot take part", svc.study.Age.Max))
	}
	return &models.Demographics{
		Age:               age,
		Gender:            strings.TrimSpace(form.Gender),
		Education:         strings.TrimSpace(form.Education),
		Employment:        strings.TrimSpace(form.Employment),
		AttitudeProblem:   strings.TrimSpace(form.AttitudeProblem),
		AttitudeWelfare:   strings.TrimSpace(form.AttitudeWelfare),
		AttitudeWouldSign: strings.TrimSpace(form.AttitudeWouldSign),
	}, nil
}

func validateItems(items []int, want, min, max int, scale string) ([]int, error) {
	if len(items) != want {
		return nil, NewInvalidError(fmt.Sprintf("the %s scale requires %d answers", scale, want))
	}
	for _, v := range items {
		if v < min || v > max {
			return nil, NewInvalidError(fmt.Sprintf("please answer every %s item", scale))
		}
	}
	return append([]int(nil), items...), nil
}

// persist writes the current snapshot. The first write appends and records
// the row handle; later writes overwrite the same row. On failure the row
// handle is left as is, so a failed first append is retried on the next
// transition.
func (svc *SessionService) persist(ctx context.Context, s *models.Session) string {
	row := Snapshot(s)
	if s.RowHandle == 0 {
		handle, err := svc.store.AppendRow(ctx, row)
		if err != nil {
			svc.log.Error("snapshot append failed", "participant", s.ParticipantID, "error", err)
			return err.Error()
		}
		s.RowHandle = handle
		return ""
	}
	if err := svc.store.OverwriteRow(ctx, s.RowHandle, row); err != nil {
		svc.log.Error("snapshot overwrite failed", "participant", s.ParticipantID, "error", err)
		return err.Error()
	}
	return ""
}

// SubmitMessage appends a user turn and fills in the bot reply. The entry
// lock is released for the duration of retrieval and generation so timer
// polls and renders are not blocked behind network calls; if the session
// moved on in the meantime the late result is dropped.
func (svc *SessionService) SubmitMessage(ctx context.Context, id, text string) (*models.Turn, error) {
	e, err := svc.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	s := e.s
	if s.Phase != models.PhaseConversation {
		e.mu.Unlock()
		return nil, NewInvalidError("messages can only be sent during the conversation")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		e.mu.Unlock()
		return nil, NewInvalidError("the message is empty")
	}
	now := svc.now()
	if view := svc.gate.Evaluate(now, s.Timer); !view.CanMessage {
		e.mu.Unlock()
		return nil, NewInvalidError("the conversation time is over")
	}

	idx := len(s.Conversation)
	turn := &models.Turn{Index: idx, UserMessage: text}
	s.Conversation = append(s.Conversation, turn)
	s.UserMessages++
	if s.Timer == nil {
		s.Timer = svc.gate.Start(now)
	}
	s.UpdatedAt = now
	cond := svc.study.Condition(s.Condition)
	history := append([]*models.Turn(nil), s.Conversation...)
	e.mu.Unlock()

	sentences := svc.engine.Respond(ctx, cond, history)

	e.mu.Lock()
	defer e.mu.Unlock()
	if idx != len(s.Conversation)-1 || turn.BotSentences != nil {
		svc.log.Warn("dropping stale reply", "participant", s.ParticipantID, "turn", idx)
		return cloneTurn(turn), nil
	}
	turn.BotSentences = sentences
	s.BotMessages++
	s.UpdatedAt = svc.now()
	return cloneTurn(turn), nil
}

// Reveal marks a bot turn as shown to the participant.
func (svc *SessionService) Reveal(id string, index int) error {
	e, err := svc.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.s.Conversation) {
		return NewNotFoundError("no such turn")
	}
	t := e.s.Conversation[index]
	if len(t.BotSentences) == 0 {
		return NewInvalidError("the turn has no reply yet")
	}
	t.Revealed = true
	return nil
}

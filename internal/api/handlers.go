package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kfilewski/conversbot/internal/models"
	"github.com/kfilewski/conversbot/internal/study"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the service error taxonomy onto HTTP statuses. Validation
// failures use 422 so the frontend can show them inline without treating
// the request itself as malformed.
func (rt *Router) writeError(w http.ResponseWriter, err error) {
	if se, ok := study.AsServiceError(err); ok {
		status := http.StatusInternalServerError
		switch se.Code {
		case study.ErrorInvalid:
			status = http.StatusUnprocessableEntity
		case study.ErrorNotFound:
			status = http.StatusNotFound
		case study.ErrorConflict:
			status = http.StatusConflict
		case study.ErrorUnauthorized:
			status = http.StatusUnauthorized
		case study.ErrorForbidden:
			status = http.StatusForbidden
		}
		writeJSON(w, status, map[string]string{"code": string(se.Code), "error": se.Message})
		return
	}
	rt.log.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"code": "internal", "error": "internal error"})
}

type turnView struct {
	Index        int      `json:"index"`
	UserMessage  string   `json:"user_message,omitempty"`
	BotSentences []string `json:"bot_sentences,omitempty"`
	Revealed     bool     `json:"revealed"`
}

type sessionView struct {
	ParticipantID string     `json:"participant_id"`
	Condition     string     `json:"condition"`
	ConditionName string     `json:"condition_name"`
	Phase         string     `json:"phase"`
	StartedAt     time.Time  `json:"started_at"`
	Conversation  []turnView `json:"conversation"`
	UserMessages  int        `json:"user_messages"`
	BotMessages   int        `json:"bot_messages"`
}

func (rt *Router) viewOf(s *models.Session) sessionView {
	turns := make([]turnView, 0, len(s.Conversation))
	for _, t := range s.Conversation {
		turns = append(turns, turnView{
			Index:        t.Index,
			UserMessage:  t.UserMessage,
			BotSentences: t.BotSentences,
			Revealed:     t.Revealed,
		})
	}
	return sessionView{
		ParticipantID: s.ParticipantID,
		Condition:     s.Condition,
		ConditionName: rt.sessions.ConditionName(s.Condition),
		Phase:         s.Phase.String(),
		StartedAt:     s.StartedAt,
		Conversation:  turns,
		UserMessages:  s.UserMessages,
		BotMessages:   s.BotMessages,
	}
}

func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"name":       "ConversBot API",
		"commit":     os.Getenv("CONVERSBOT_COMMIT"),
		"build_time": os.Getenv("CONVERSBOT_BUILD_TIME"),
	})
}

func (rt *Router) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s := rt.sessions.Create(r.Context())
	writeJSON(w, http.StatusCreated, rt.viewOf(s))
}

func (rt *Router) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := rt.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rt.viewOf(s))
}

func (rt *Router) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req study.AdvanceRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	res, err := rt.sessions.Advance(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"phase":         res.Phase.String(),
		"persist_error": res.PersistError,
	})
}

func (rt *Router) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	turn, err := rt.sessions.SubmitMessage(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turnView{
		Index:        turn.Index,
		UserMessage:  turn.UserMessage,
		BotSentences: turn.BotSentences,
		Revealed:     turn.Revealed,
	})
}

func (rt *Router) handleTimer(w http.ResponseWriter, r *http.Request) {
	view, err := rt.sessions.Timer(chi.URLParam(r, "id"))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *Router) handleReveal(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "turn index must be a number"})
		return
	}
	if err := rt.sessions.Reveal(chi.URLParam(r, "id"), index); err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res, err := rt.auth.Register(req.Email, req.Password)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	b, err := study.ExportCSV(r.Context(), rt.store)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=study.csv")
	_, _ = w.Write(b)
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kfilewski/conversbot/internal/config"
	"github.com/kfilewski/conversbot/internal/logger"
	"github.com/kfilewski/conversbot/internal/middleware"
	"github.com/kfilewski/conversbot/internal/models"
	"github.com/kfilewski/conversbot/internal/rowstore"
	"github.com/kfilewski/conversbot/internal/study"
)

type echoResponder struct{}

func (echoResponder) Respond(_ context.Context, _ config.Condition, history []*models.Turn) []string {
	last := history[len(history)-1]
	return []string{"odpowiedź na: " + last.UserMessage}
}

func testRouter(t *testing.T) (http.Handler, *rowstore.MemoryStore) {
	t.Helper()
	s := &config.Study{
		Conditions: []config.Condition{
			{Key: "a", Name: "formalny", Persona: "Jesteś asystentem.", Welcome: "Dzień dobry!"},
		},
	}
	s.Conversation.MinMinutes = 3
	s.Conversation.MaxMinutes = 10
	s.Retrieval.TopK = 4
	s.Generation.Model = "gpt-3.5-turbo"
	s.Generation.Temperature = 0.4
	s.Age.Min = 18
	s.Age.Max = 60

	store := rowstore.NewMemoryStore()
	log := logger.NewNop()
	balancer := study.NewGroupBalancer(log, store, s.ConditionKeys())
	sessions := study.NewSessionService(log, store, echoResponder{}, balancer, s)
	auth := study.NewAuthService(middleware.SignToken)
	return NewRouter(log, sessions, auth, store).Handler(), store
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, out any, headers ...string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	var created struct {
		ParticipantID string `json:"participant_id"`
		Phase         string `json:"phase"`
	}
	if code := doJSON(t, h, http.MethodPost, "/api/sessions", "", &created); code != http.StatusCreated {
		t.Fatalf("create session status = %d", code)
	}
	if created.Phase != "consent" {
		t.Fatalf("new session phase = %q", created.Phase)
	}
	return created.ParticipantID
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	h, _ := testRouter(t)
	id := createSession(t, h)

	var got struct {
		Condition    string `json:"condition"`
		Conversation []struct {
			BotSentences []string `json:"bot_sentences"`
		} `json:"conversation"`
	}
	if code := doJSON(t, h, http.MethodGet, "/api/sessions/"+id, "", &got); code != http.StatusOK {
		t.Fatalf("get session status = %d", code)
	}
	if got.Condition != "a" || len(got.Conversation) != 1 {
		t.Fatalf("session view = %+v", got)
	}

	var adv struct {
		Phase string `json:"phase"`
	}
	if code := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/advance", "{}", &adv); code != http.StatusOK {
		t.Fatalf("advance status = %d", code)
	}
	if adv.Phase != "demographics" {
		t.Fatalf("phase = %q", adv.Phase)
	}

	if code := doJSON(t, h, http.MethodGet, "/api/sessions/zzz", "", nil); code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", code)
	}
}

func TestAdvanceValidationReturns422(t *testing.T) {
	h, _ := testRouter(t)
	id := createSession(t, h)
	doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/advance", "{}", nil)

	body := `{"demographics":{"age":"17","gender":"kobieta","education":"wyższe","employment":"pracuję","attitude_problem":"4","attitude_welfare":"5","attitude_would_sign":"3"}}`
	var errResp struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	code := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/advance", body, &errResp)
	if code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", code)
	}
	if errResp.Code != "invalid" || !strings.Contains(errResp.Error, "18") {
		t.Fatalf("error body = %+v", errResp)
	}
}

func TestMessageAndTimerEndpoints(t *testing.T) {
	h, _ := testRouter(t)
	id := createSession(t, h)

	// Walk to the conversation phase.
	doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/advance", "{}", nil)
	demo := `{"demographics":{"age":"30","gender":"kobieta","education":"wyższe","employment":"pracuję","attitude_problem":"4","attitude_welfare":"5","attitude_would_sign":"3"}}`
	doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/advance", demo, nil)
	doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/advance", `{"personality":[1,2,3,4,5,6,7,1,2,3]}`, nil)

	var timer struct {
		State   string `json:"state"`
		Display string `json:"display"`
	}
	if code := doJSON(t, h, http.MethodGet, "/api/sessions/"+id+"/timer", "", &timer); code != http.StatusOK {
		t.Fatalf("timer status = %d", code)
	}
	if timer.State != "idle" || timer.Display != "--:--" {
		t.Fatalf("timer before first message = %+v", timer)
	}

	var turn struct {
		Index        int      `json:"index"`
		BotSentences []string `json:"bot_sentences"`
	}
	if code := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/messages", `{"text":"pytanie"}`, &turn); code != http.StatusOK {
		t.Fatalf("message status = %d", code)
	}
	if turn.Index != 1 || len(turn.BotSentences) != 1 {
		t.Fatalf("turn = %+v", turn)
	}

	doJSON(t, h, http.MethodGet, "/api/sessions/"+id+"/timer", "", &timer)
	if timer.State != "blocked" {
		t.Fatalf("timer after first message = %+v", timer)
	}

	if code := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/turns/1/reveal", "", nil); code != http.StatusOK {
		t.Fatalf("reveal status = %d", code)
	}
	if code := doJSON(t, h, http.MethodPost, "/api/sessions/"+id+"/turns/9/reveal", "", nil); code != http.StatusNotFound {
		t.Fatalf("reveal of missing turn status = %d", code)
	}
}

func TestExportRequiresResearcherToken(t *testing.T) {
	h, _ := testRouter(t)

	if code := doJSON(t, h, http.MethodGet, "/api/export", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("export without token status = %d", code)
	}

	var reg struct {
		Token string `json:"token"`
	}
	if code := doJSON(t, h, http.MethodPost, "/api/auth/register", `{"email":"b@example.org","password":"sekret123"}`, &reg); code != http.StatusCreated {
		t.Fatalf("register status = %d", code)
	}
	if reg.Token == "" {
		t.Fatalf("register returned no token")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/export", nil)
	req.Header.Set("Authorization", "Bearer "+reg.Token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("export with token status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("export content type = %q", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "participant_id,") {
		t.Fatalf("export body = %q", rec.Body.String()[:40])
	}

	var login struct {
		Token string `json:"token"`
	}
	if code := doJSON(t, h, http.MethodPost, "/api/auth/login", `{"email":"b@example.org","password":"sekret123"}`, &login); code != http.StatusOK {
		t.Fatalf("login status = %d", code)
	}
	if code := doJSON(t, h, http.MethodPost, "/api/auth/login", `{"email":"b@example.org","password":"złe"}`, nil); code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", code)
	}
}

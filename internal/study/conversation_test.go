package study

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/kfilewski/conversbot/internal/config"
	"github.com/kfilewski/conversbot/internal/llm"
	"github.com/kfilewski/conversbot/internal/logger"
	"github.com/kfilewski/conversbot/internal/models"
)

type stubRetrieval struct {
	passages  []string
	searchErr error

	gotQuery string
	gotK     int
}

func (r *stubRetrieval) AnchorQuery(userText string) string {
	return userText + " kotwica"
}

func (r *stubRetrieval) Search(_ context.Context, query string, k int) ([]string, error) {
	r.gotQuery = query
	r.gotK = k
	return r.passages, r.searchErr
}

type stubGenerator struct {
	reply string
	err   error

	gotModel       string
	gotTemperature float32
	gotMessages    []llm.Message
}

func (g *stubGenerator) Complete(_ context.Context, model string, messages []llm.Message, temperature float32) (string, error) {
	g.gotModel = model
	g.gotTemperature = temperature
	g.gotMessages = messages
	return g.reply, g.err
}

func testStudy() *config.Study {
	s := &config.Study{
		Conditions: []config.Condition{
			{Key: "a", Name: "formalny", Persona: "Jesteś formalnym asystentem.", Welcome: "Dzień dobry! W czym mogę pomóc?"},
			{Key: "b", Name: "swobodny", Persona: "Jesteś swobodnym asystentem.", Welcome: "Hej! O co chcesz zapytać?"},
			{Key: "c", Name: "neutralny", Persona: "Jesteś neutralnym asystentem.", Welcome: "Witaj. Zadaj pytanie."},
		},
	}
	s.Conversation.MinMinutes = 3
	s.Conversation.MaxMinutes = 10
	s.Retrieval.TopK = 4
	s.Retrieval.AnchorTerms = []string{"kotwica"}
	s.Generation.Model = "gpt-3.5-turbo"
	s.Generation.Temperature = 0.4
	s.Age.Min = 18
	s.Age.Max = 60
	return s
}

func TestRespondAssemblesPromptAndSegments(t *testing.T) {
	retrieval := &stubRetrieval{passages: []string{"fragment pierwszy", "fragment drugi"}}
	gen := &stubGenerator{reply: "Pierwsze zdanie. Drugie zdanie!"}
	study := testStudy()
	engine := NewConversationEngine(logger.NewNop(), retrieval, gen, study)
	cond := study.Condition("a")

	history := []*models.Turn{
		{Index: 0, BotSentences: []string{"Dzień dobry!", "W czym mogę pomóc?"}},
		{Index: 1, UserMessage: "pierwsze pytanie", BotSentences: []string{"pierwsza odpowiedź"}},
		{Index: 2, UserMessage: "drugie pytanie"},
	}
	got := engine.Respond(context.Background(), cond, history)

	if want := []string{"Pierwsze zdanie", "Drugie zdanie!"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sentences = %#v, want %#v", got, want)
	}
	if retrieval.gotQuery != "drugie pytanie kotwica" {
		t.Fatalf("retrieval query = %q", retrieval.gotQuery)
	}
	if retrieval.gotK != 4 {
		t.Fatalf("retrieval k = %d", retrieval.gotK)
	}
	if gen.gotModel != "gpt-3.5-turbo" || gen.gotTemperature != 0.4 {
		t.Fatalf("generation params = %q %v", gen.gotModel, gen.gotTemperature)
	}

	roles := make([]string, 0, len(gen.gotMessages))
	for _, m := range gen.gotMessages {
		roles = append(roles, m.Role)
	}
	wantRoles := []string{
		llm.RoleSystem, llm.RoleSystem,
		llm.RoleAssistant,
		llm.RoleUser, llm.RoleAssistant,
		llm.RoleUser,
	}
	if !reflect.DeepEqual(roles, wantRoles) {
		t.Fatalf("message roles = %v, want %v", roles, wantRoles)
	}
	if gen.gotMessages[0].Content != cond.Persona {
		t.Fatalf("persona message = %q", gen.gotMessages[0].Content)
	}
	if !strings.Contains(gen.gotMessages[1].Content, "fragment pierwszy") {
		t.Fatalf("grounding message missing passage: %q", gen.gotMessages[1].Content)
	}
	if gen.gotMessages[2].Content != "Dzień dobry!. W czym mogę pomóc?" {
		t.Fatalf("welcome history message = %q", gen.gotMessages[2].Content)
	}
	if gen.gotMessages[5].Content != "drugie pytanie" {
		t.Fatalf("pending user message = %q", gen.gotMessages[5].Content)
	}
}

func TestRespondRetrievalFailureDegradesToEmptyContext(t *testing.T) {
	retrieval := &stubRetrieval{searchErr: errors.New("index offline")}
	gen := &stubGenerator{reply: "Odpowiadam mimo wszystko."}
	study := testStudy()
	engine := NewConversationEngine(logger.NewNop(), retrieval, gen, study)

	got := engine.Respond(context.Background(), study.Condition("b"), []*models.Turn{{Index: 1, UserMessage: "pytanie"}})
	if want := []string{"Odpowiadam mimo wszystko"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("sentences = %#v, want %#v", got, want)
	}
	if !strings.Contains(gen.gotMessages[1].Content, "(no source material available") {
		t.Fatalf("grounding message = %q", gen.gotMessages[1].Content)
	}
}

func TestRespondGenerationFailureBecomesContent(t *testing.T) {
	retrieval := &stubRetrieval{}
	gen := &stubGenerator{err: errors.New("model timeout")}
	study := testStudy()
	engine := NewConversationEngine(logger.NewNop(), retrieval, gen, study)

	got := engine.Respond(context.Background(), study.Condition("c"), []*models.Turn{{Index: 1, UserMessage: "pytanie"}})
	if len(got) != 1 || !strings.HasPrefix(got[0], "Error: ") {
		t.Fatalf("sentences = %#v, want single error content", got)
	}
	if !strings.Contains(got[0], "model timeout") {
		t.Fatalf("error content = %q", got[0])
	}
}

package study

import (
	"context"
	"strings"

	"github.com/kfilewski/conversbot/internal/config"
	"github.com/kfilewski/conversbot/internal/llm"
	"github.com/kfilewski/conversbot/internal/logger"
	"github.com/kfilewski/conversbot/internal/models"
)

// Retrieval is the engine's view of the vector retrieval adapter.
type Retrieval interface {
	AnchorQuery(userText string) string
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// Generator is the engine's view of the generation adapter.
type Generator interface {
	Complete(ctx context.Context, model string, messages []llm.Message, temperature float32) (string, error)
}

// ConversationEngine produces one grounded bot reply per user message:
// retrieval, context assembly, generation, sentence segmentation. It never
// mutates the session; the state machine owns turn bookkeeping.
type ConversationEngine struct {
	log         *logger.Logger
	retriever   Retrieval
	generator   Generator
	model       string
	temperature float32
	topK        int
}

func NewConversationEngine(log *logger.Logger, retriever Retrieval, generator Generator, study *config.Study) *ConversationEngine {
	return &ConversationEngine{
		log:         log.With("service", "conversation"),
		retriever:   retriever,
		generator:   generator,
		model:       study.Generation.Model,
		temperature: study.Generation.Temperature,
		topK:        study.Retrieval.TopK,
	}
}

// Respond generates the bot sentences for the pending turn. The history
// must already contain the pending user turn as its last element. A
// retrieval failure degrades to an empty context; a generation failure is
// returned as visible transcript content so the session can proceed instead
// of deadlocking on a transient outage.
func (e *ConversationEngine) Respond(ctx context.Context, cond config.Condition, history []*models.Turn) []string {
	userText := ""
	if n := len(history); n > 0 {
		userText = history[n-1].UserMessage
	}

	passages, err := e.retriever.Search(ctx, e.retriever.AnchorQuery(userText), e.topK)
	if err != nil {
		e.log.Warn("retrieval failed, continuing without context", "error", err)
		passages = nil
	}

	messages := e.assemble(cond, passages, history)
	raw, err := e.generator.Complete(ctx, e.model, messages, e.temperature)
	if err != nil {
		e.log.Error("generation failed", "error", err)
		return []string{"Error: " + err.Error()}
	}
	sentences := SegmentSentences(raw)
	if len(sentences) == 0 {
		sentences = []string{raw}
	}
	return sentences
}

// assemble builds the generation request: persona instruction, grounding
// passages with an explicit use-only-this-material instruction, then the
// prior history as alternating user/assistant messages.
func (e *ConversationEngine) assemble(cond config.Condition, passages []string, history []*models.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: cond.Persona})
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: groundingBlock(passages)})
	for _, t := range history {
		if t.UserMessage != "" {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: t.UserMessage})
		}
		if len(t.BotSentences) > 0 {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: JoinSentences(t.BotSentences)})
		}
	}
	return messages
}

func groundingBlock(passages []string) string {
	var b strings.Builder
	b.WriteString("These are the source documents you must base your answers on. Use only this material:\n")
	if len(passages) == 0 {
		b.WriteString("- (no source material available for this query)")
		return b.String()
	}
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(p)
	}
	return b.String()
}

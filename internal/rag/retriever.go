// Package rag grounds bot replies in a fixed corpus: passages with
// precomputed embeddings are loaded at startup and queried by cosine
// similarity against an on-demand query embedding.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/kfilewski/conversbot/internal/llm"
	"github.com/kfilewski/conversbot/internal/logger"
)

// Passage is one retrievable corpus entry.
type Passage struct {
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
}

// Retriever answers top-K relevance queries over the corpus.
type Retriever struct {
	log     *logger.Logger
	client  llm.Client
	corpus  []Passage
	anchors string
}

// NewRetriever loads the corpus file. An unreadable or empty corpus is a
// startup failure: the study must not run with a broken grounding path.
func NewRetriever(log *logger.Logger, client llm.Client, corpusPath string, anchorTerms []string) (*Retriever, error) {
	raw, err := os.ReadFile(corpusPath)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	var corpus []Passage
	if err := json.Unmarshal(raw, &corpus); err != nil {
		return nil, fmt.Errorf("parse corpus %s: %w", corpusPath, err)
	}
	if len(corpus) == 0 {
		return nil, fmt.Errorf("corpus %s is empty", corpusPath)
	}
	dim := len(corpus[0].Embedding)
	for i, p := range corpus {
		if strings.TrimSpace(p.Content) == "" {
			return nil, fmt.Errorf("corpus passage %d has empty content", i)
		}
		if len(p.Embedding) != dim || dim == 0 {
			return nil, fmt.Errorf("corpus passage %d has embedding dim %d, expected %d", i, len(p.Embedding), dim)
		}
	}
	return &Retriever{
		log:     log.With("service", "retriever"),
		client:  client,
		corpus:  corpus,
		anchors: strings.Join(anchorTerms, " "),
	}, nil
}

// Size returns the number of corpus passages.
func (r *Retriever) Size() int { return len(r.corpus) }

// AnchorQuery widens short or ambiguous user text with the study's fixed
// domain-anchor keywords before embedding.
func (r *Retriever) AnchorQuery(userText string) string {
	userText = strings.TrimSpace(userText)
	if r.anchors == "" {
		return userText
	}
	if userText == "" {
		return r.anchors
	}
	return userText + " " + r.anchors
}

// Search returns up to k passages ordered most relevant first.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	vecs, err := r.client.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embed query: empty vector")
	}
	return r.rank(vecs[0], k), nil
}

type scoredPassage struct {
	content string
	score   float64
}

func (r *Retriever) rank(query []float32, k int) []string {
	scored := make([]scoredPassage, 0, len(r.corpus))
	for _, p := range r.corpus {
		scored = append(scored, scoredPassage{content: p.Content, score: cosine(query, p.Embedding)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if k > len(scored) {
		k = len(scored)
	}
	out := make([]string, 0, k)
	for _, s := range scored[:k] {
		out = append(out, s.content)
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x := float64(a[i])
		y := float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Package answer builds grounding prompts from retrieved context and turns
// completion output into structured, source-attributed answers.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/provzone/docchat/internal/retrieval"
)

// NoInformationAnswer is returned verbatim when the corpus has nothing to
// ground an answer in. The prompt instructs the model to open refusals with
// the same phrase so they can be recognized.
const NoInformationAnswer = "No information available in the ingested documents."

// ContextRetriever produces the context bundle for a question.
type ContextRetriever interface {
	Retrieve(ctx context.Context, question string, topK, radius int) (retrieval.ContextBundle, error)
}

// Completer invokes the completion model.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Answer is the structured result of one question.
type Answer struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
}

// Assembler answers questions grounded in retrieved document context.
type Assembler struct {
	retriever ContextRetriever
	completer Completer
	model     string
	topK      int
	radius    int
}

// NewAssembler creates an Assembler. topK and radius fall back to 5 and 1
// when non-positive.
func NewAssembler(retriever ContextRetriever, completer Completer, model string, topK, radius int) *Assembler {
	if topK <= 0 {
		topK = 5
	}
	if radius <= 0 {
		radius = 1
	}
	return &Assembler{
		retriever: retriever,
		completer: completer,
		model:     model,
		topK:      topK,
		radius:    radius,
	}
}

// Ask retrieves context for the question and produces a grounded answer.
// An empty corpus short-circuits to NoInformationAnswer without calling the
// completion model. A model refusal clears the sources: documents that did
// not inform the answer are not cited.
func (a *Assembler) Ask(ctx context.Context, question string) (Answer, error) {
	bundle, err := a.retriever.Retrieve(ctx, question, a.topK, a.radius)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}
	if bundle.Empty() {
		return Answer{Question: question, Answer: NoInformationAnswer, Sources: []string{}}, nil
	}

	text, err := a.completer.Complete(ctx, a.model, buildPrompt(question, bundle.Context()))
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}
	text = strings.TrimSpace(text)

	sources := bundle.Sources
	if isRefusal(text) {
		sources = []string{}
	}
	return Answer{Question: question, Answer: text, Sources: sources}, nil
}

// buildPrompt assembles the grounding prompt: context first, then the
// question, then the grounding contract.
func buildPrompt(question, contextText string) string {
	var sb strings.Builder
	sb.WriteString("You answer questions using only the document excerpts below.\n\n")
	sb.WriteString("[Context]\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\n[Question]\n")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer using only the information in [Context]. ")
	sb.WriteString("Do not use outside knowledge. If the context does not contain ")
	sb.WriteString("the answer, reply exactly: ")
	sb.WriteString(NoInformationAnswer)
	return sb.String()
}

func isRefusal(text string) bool {
	return strings.HasPrefix(text, NoInformationAnswer)
}

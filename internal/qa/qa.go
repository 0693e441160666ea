package qa

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/repoqa/repoqa/internal/retriever"
)

const systemPrompt = "You are an AI assistant that answers questions using code from a repository. " +
	"Ensure your responses reference specific classes, functions, or files when applicable."

const userPromptFormat = "Repository Context:\n%s\n\n" +
	"Answer the following question based on the repository content above:\n%s\n\n" +
	"If you do not find an exact match, try to infer based on related code structures."

// Completer produces a completion from a system and user prompt
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Provider() string
	Close() error
}

// Answer is the outcome of one question
type Answer struct {
	Text    string
	Context string
	Results []retriever.Result
}

// Orchestrator ties retrieval and completion together: retrieve context
// for the question, render it, and hand both to the completion model.
type Orchestrator struct {
	retriever *retriever.Retriever
	completer Completer
	logger    *slog.Logger
}

// New creates an Orchestrator
func New(r *retriever.Retriever, c Completer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		retriever: r,
		completer: c,
		logger:    logger,
	}
}

// Ask answers a question about the indexed repository. The completion
// model is always consulted, even when retrieval found nothing; the
// rendered context tells it so.
func (o *Orchestrator) Ask(ctx context.Context, question string) (*Answer, error) {
	results, err := o.retriever.Retrieve(ctx, question, retriever.DefaultTopK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}

	contextBlock := retriever.RenderContext(results)
	o.logger.Debug("retrieved context", "question", question, "results", len(results))

	text, err := o.completer.Complete(ctx, systemPrompt, fmt.Sprintf(userPromptFormat, contextBlock, question))
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	return &Answer{
		Text:    text,
		Context: contextBlock,
		Results: results,
	}, nil
}

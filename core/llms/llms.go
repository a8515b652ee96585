// Package llms defines the narrow reasoning seam the conversation module
// calls into. Concrete language-model clients live in subpackages; the
// core never depends on a specific backend.
package llms

import "context"

// Role identifies who produced a piece of dialogue passed to the model.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleContext carries non-dialogue grounding, like detection
	// summaries attached to a turn.
	RoleContext Role = "context"
)

// Turn is one unit of dialogue history passed to the model.
type Turn struct {
	Role    Role
	Content string
}

// Generator produces one reply for one prompt. Implementations must honor
// context cancellation; the conversation handler calls Generate with a
// bounded timeout.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)
}

type GenerateOptions struct {
	Instructions string
	History      []Turn
	Grounding    []string
}

type GenerateOption func(*GenerateOptions)

// WithInstructions sets the system prompt.
func WithInstructions(instructions string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Instructions = instructions
	}
}

// WithHistory attaches prior dialogue turns, oldest first.
func WithHistory(history ...Turn) GenerateOption {
	return func(o *GenerateOptions) {
		o.History = append(o.History, history...)
	}
}

// WithGrounding attaches perceptual context lines collected right before
// generation.
func WithGrounding(grounding ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Grounding = append(o.Grounding, grounding...)
	}
}

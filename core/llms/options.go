package llms

import "github.com/koscakluka/ema-dialog/internal/utils"

// CompletionOptions holds the optional sampling parameters of a completion
// request. Nil fields are left for the backend to decide.
type CompletionOptions struct {
	MaxTokens        *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
}

type CompletionOption func(*CompletionOptions)

func WithMaxTokens(maxTokens int) CompletionOption {
	return func(o *CompletionOptions) { o.MaxTokens = utils.Ptr(maxTokens) }
}

func WithTopP(topP float64) CompletionOption {
	return func(o *CompletionOptions) { o.TopP = utils.Ptr(topP) }
}

func WithFrequencyPenalty(penalty float64) CompletionOption {
	return func(o *CompletionOptions) { o.FrequencyPenalty = utils.Ptr(penalty) }
}

func WithPresencePenalty(penalty float64) CompletionOption {
	return func(o *CompletionOptions) { o.PresencePenalty = utils.Ptr(penalty) }
}

// NewCompletionOptions applies opts in order; later options win.
func NewCompletionOptions(opts ...CompletionOption) CompletionOptions {
	options := CompletionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

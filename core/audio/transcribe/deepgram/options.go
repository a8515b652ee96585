package deepgram

const (
	defaultModel       = "nova-3"
	defaultLanguage    = "en-US"
	defaultEndpointing = "300"
)

type options struct {
	apiKey      string
	model       string
	language    string
	endpointing string
}

func defaultClientOptions() options {
	return options{
		model:       defaultModel,
		language:    defaultLanguage,
		endpointing: defaultEndpointing,
	}
}

type Option func(*options)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment variable.
func WithAPIKey(apiKey string) Option {
	return func(o *options) {
		o.apiKey = apiKey
	}
}

func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

func WithLanguage(language string) Option {
	return func(o *options) {
		if language != "" {
			o.language = language
		}
	}
}

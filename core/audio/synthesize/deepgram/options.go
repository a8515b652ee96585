package deepgram

import "github.com/koscakluka/ada-core/core/audio"

// Voice identifies a Deepgram Aura voice model.
type Voice string

const (
	VoiceAsteria Voice = "aura-asteria-en"
	VoiceOrion   Voice = "aura-orion-en"
	VoiceLuna    Voice = "aura-luna-en"
	VoiceArcas   Voice = "aura-arcas-en"
)

const defaultEndpoint = "wss://api.deepgram.com/v1/speak"

// AvailableVoices lists the voices the speak API accepts.
func AvailableVoices() []Voice {
	return []Voice{VoiceAsteria, VoiceOrion, VoiceLuna, VoiceArcas}
}

type options struct {
	apiKey   string
	voice    Voice
	encoding audio.EncodingInfo
	endpoint string
}

func defaultClientOptions() options {
	return options{
		voice:    VoiceAsteria,
		encoding: audio.GetDefaultEncodingInfo(),
		endpoint: defaultEndpoint,
	}
}

type Option func(*options)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment variable.
func WithAPIKey(apiKey string) Option {
	return func(o *options) {
		o.apiKey = apiKey
	}
}

func WithVoice(voice Voice) Option {
	return func(o *options) {
		if voice != "" {
			o.voice = voice
		}
	}
}

// WithEncoding sets the audio encoding requested from the speak API. It
// should match the encoding the playback device expects.
func WithEncoding(encoding audio.EncodingInfo) Option {
	return func(o *options) {
		if !encoding.IsZero() {
			o.encoding = encoding
		}
	}
}

// WithEndpoint overrides the speak API endpoint.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		if endpoint != "" {
			o.endpoint = endpoint
		}
	}
}

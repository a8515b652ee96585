package audio

type options struct {
	synthesizer Synthesizer
	playback    PlaybackClient
}

func defaultModuleOptions() options {
	return options{}
}

type Option func(*options)

// WithSpeechOutput enables spoken responses: replies are rendered by the
// synthesizer and played through the playback client. Both are required
// for the module to speak.
func WithSpeechOutput(synthesizer Synthesizer, playback PlaybackClient) Option {
	return func(o *options) {
		o.synthesizer = synthesizer
		o.playback = playback
	}
}

package events

// Utterance carries one finalized unit of user input.
type Utterance struct {
	Base
	Text string
	// Transcribed is true for speech input, false for typed input.
	Transcribed bool
}

func (u Utterance) String() string { return u.Text }

// NewUtterance creates an utterance event for typed input.
func NewUtterance(source, text string) Utterance {
	return Utterance{Base: NewBase(TopicUtterance, source), Text: text}
}

// NewTranscribedUtterance creates an utterance event for transcribed speech.
func NewTranscribedUtterance(source, text string) Utterance {
	return Utterance{Base: NewBase(TopicUtterance, source), Text: text, Transcribed: true}
}

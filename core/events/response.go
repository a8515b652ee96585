package events

// Response carries one assistant reply, ready for synthesis and display.
type Response struct {
	Base
	Text string
	// TurnID references the conversation turn the reply belongs to.
	TurnID uint64
	// Fallback is true when the reply is a canned phrase emitted because
	// generation failed or timed out.
	Fallback bool
}

func (r Response) String() string { return r.Text }

func NewResponse(source, text string, turnID uint64) Response {
	return Response{Base: NewBase(TopicResponse, source), Text: text, TurnID: turnID}
}

func NewFallbackResponse(source, text string, turnID uint64) Response {
	return Response{Base: NewBase(TopicResponse, source), Text: text, TurnID: turnID, Fallback: true}
}

package events

// Health reports a module's state. State values mirror the module package
// state enum; they are carried as strings to keep this package free of
// upward dependencies.
type Health struct {
	Base
	State   string
	Message string
}

func NewHealth(source, state, message string) Health {
	return Health{Base: NewBase(TopicHealth, source), State: state, Message: message}
}

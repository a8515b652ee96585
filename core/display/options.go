package display

const (
	defaultAddr         = "127.0.0.1:8710"
	defaultClientBuffer = 32
)

type options struct {
	addr         string
	clientBuffer int
}

func defaultModuleOptions() options {
	return options{
		addr:         defaultAddr,
		clientBuffer: defaultClientBuffer,
	}
}

type Option func(*options)

// WithAddr sets the listen address of the websocket endpoint.
func WithAddr(addr string) Option {
	return func(o *options) {
		if addr != "" {
			o.addr = addr
		}
	}
}

// WithClientBuffer bounds the per-client outbound queue. A client that
// falls further behind starts losing frames instead of stalling the
// broadcast.
func WithClientBuffer(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.clientBuffer = size
		}
	}
}

package hubmux

import "log"

// DisconnectReason records why WaitForDisconnect resolved, so observers get
// the cause alongside the bare fact of disconnection.
type DisconnectReason int

const (
	DisconnectUnknown DisconnectReason = iota
	// DisconnectRemoteClosed: the response stream returned a graceful
	// end-of-stream with no disposal requested locally.
	DisconnectRemoteClosed
	// DisconnectDisposed: Dispose was called.
	DisconnectDisposed
	// DisconnectTransportError: the response stream's Next returned a
	// non-cancellation error.
	DisconnectTransportError
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectRemoteClosed:
		return "remote-closed"
	case DisconnectDisposed:
		return "disposed"
	case DisconnectTransportError:
		return "transport-error"
	default:
		return "unknown"
	}
}

// Options configures a Channel. The zero value is not meant to be used
// directly — build one with DefaultOptions.
type Options struct {
	// Logger receives decode-failure and dropped-broadcast diagnostics.
	// Defaults to log.Default().
	Logger *log.Logger
	// Debug additionally logs unsolicited responses and response payload
	// decode failures, at a lower verbosity than protocol violations.
	Debug bool
}

// DefaultOptions returns the zero-tuned Options every Channel should start
// from.
func DefaultOptions() *Options {
	return &Options{Logger: log.Default()}
}

func (o *Options) withDefaults() *Options {
	if o == nil {
		return DefaultOptions()
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

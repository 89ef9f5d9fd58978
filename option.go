package msgsock

import (
	"time"
)

// options holds the configuration for a connection.
type options struct {
	logger  Logger
	metrics *metrics

	onMessage func(payload []byte) error

	magic         uint32
	magicSet      bool
	maxReadLength int           // maximum payload size, 0 disables the limit
	readBufSize   int           // size of the buffered reader
	idleTimeout   time.Duration // read deadline per frame, 0 blocks forever
	writeTimeout  time.Duration // write deadline per frame, 0 blocks forever
}

// Option is a function that configures connection options.
type Option func(*options)

// MagicOption sets the magic value written to and expected from the peer.
// Defaults to DefaultMagic. Zero is a valid magic.
func MagicOption(magic uint32) Option {
	return func(o *options) {
		o.magic = magic
		o.magicSet = true
	}
}

// MessageMaxSize sets the maximum payload size accepted and sent on the
// connection. Zero or negative disables the limit; sizes beyond the uint32
// length field are capped to it.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// ReadBufferSizeOption sets the size of the buffered reader wrapping the socket.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufSize = size
	}
}

// IdleTimeoutOption bounds how long the receive loop waits for the next frame.
// The default of zero waits forever, so an open but silent peer keeps the
// connection (and the service's single slot) occupied.
func IdleTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// WriteTimeoutOption bounds how long a single Write may block.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// OnMessageOption sets the handler invoked for each decoded payload.
// This callback is required. It runs on the receive goroutine, so it must not
// block for long; a returned error ends the connection.
func OnMessageOption(cb func(payload []byte) error) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// LoggerOption sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func metricsOption(m *metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

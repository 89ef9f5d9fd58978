package msgsock

import (
	"bufio"
	"context"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by connection operations.
var (
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrConnectionClosed is returned when writing to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// defaultReadBufferSize is the default size of the buffered socket reader.
const defaultReadBufferSize = 4096

// Conn is one framed TCP connection. Run drives its receive loop; Write may be
// called from any goroutine and is serialized internally.
type Conn struct {
	rawConn *net.TCPConn
	reader  *bufio.Reader
	codec   Codec
	logger  Logger

	opts options

	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewConn wraps conn. The OnMessageOption is required.
func NewConn(conn *net.TCPConn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return &Conn{
		rawConn: conn,
		reader:  bufio.NewReaderSize(conn, opts.readBufSize),
		codec:   Codec{Magic: opts.magic, MaxPayload: payloadLimit(opts.maxReadLength)},
		logger:  opts.logger,
		opts:    opts,
	}, nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if !opts.magicSet {
		opts.magic = DefaultMagic
	}

	if opts.maxReadLength < 0 {
		opts.maxReadLength = 0
	}

	if opts.readBufSize <= 0 {
		opts.readBufSize = defaultReadBufferSize
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// payloadLimit converts a non-negative size limit to the codec's uint32 limit,
// capping sizes the length field cannot carry instead of truncating them.
func payloadLimit(size int) uint32 {
	if uint64(size) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(size)
}

// Run is the receive loop. It blocks, decoding frames and passing their
// payloads to the message handler, until the peer disconnects, a frame is
// malformed, the handler fails or ctx is canceled. The connection is closed
// when Run returns, and the returned error says why it ended.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "addr", c.Addr())
	c.logger.Debug("connection options", "addr", c.Addr(),
		"magic", c.codec.Magic,
		"max_payload", c.codec.MaxPayload,
		"idle_timeout", c.opts.idleTimeout)

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	// Reads have no cancellation of their own; closing the socket unblocks them.
	group.Go(func() error {
		<-child.Done()
		c.closeConn()
		return child.Err()
	})

	err := group.Wait()
	c.closeConn()

	c.opts.metrics.disconnected(disconnectReason(err))
	c.logDisconnect(err)

	return err
}

// readLoop decodes frames until one fails. It never returns nil.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if c.opts.idleTimeout > 0 {
			_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout))
		}

		payload, err := c.codec.Decode(c.reader)
		if err != nil {
			// A canceled context closed the socket under us.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		c.opts.metrics.received(len(payload))
		c.logger.Debug("frame received", "addr", c.Addr(), "length", len(payload))

		if err = c.opts.onMessage(payload); err != nil {
			return errors.Wrap(err, "on message")
		}
	}
}

// Write frames payload and writes it to the socket, blocking until the whole
// frame is written or the write fails. A failed write leaves the connection
// open; the receive loop notices a broken socket on its next read.
func (c *Conn) Write(payload []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := c.codec.Encode(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if c.opts.writeTimeout > 0 {
		_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	}

	if _, err = c.rawConn.Write(data); err != nil {
		c.opts.metrics.sendFailed()
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		return errors.Wrap(err, "write frame")
	}

	c.opts.metrics.sent(len(payload))
	return nil
}

// Close closes the underlying socket, which ends a running receive loop.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

func (c *Conn) closeConn() {
	_ = c.Close()
}

func (c *Conn) logDisconnect(err error) {
	switch {
	case errors.Is(err, ErrStreamClosed):
		c.logger.Info("connection closed by peer", "addr", c.Addr())
	case errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed):
		c.logger.Info("connection closed", "addr", c.Addr())
	case errors.Is(err, ErrShortRead):
		c.logger.Warn("connection closed mid-frame", "addr", c.Addr(), "error", err)
	case isProtocolError(err):
		c.logger.Error("protocol violation, dropping connection", "addr", c.Addr(), "error", err)
	default:
		c.logger.Warn("connection closed with error", "addr", c.Addr(), "error", err)
	}
}

func disconnectReason(err error) string {
	switch {
	case errors.Is(err, ErrStreamClosed):
		return reasonStreamClosed
	case errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed):
		return reasonLocalClose
	case errors.Is(err, ErrShortRead):
		return reasonShortRead
	case errors.Is(err, ErrBadMagic):
		return reasonBadMagic
	case errors.Is(err, ErrEmptyPayload):
		return reasonEmptyPayload
	case errors.Is(err, ErrMessageTooLarge):
		return reasonTooLarge
	default:
		return reasonIO
	}
}

package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/julianpistorius/jsvcgen/codec"
	"github.com/julianpistorius/jsvcgen/protocol"
)

// ErrConnClosed is returned for calls made on, or pending when, a connection shuts down.
var ErrConnClosed = errors.New("transport: connection closed")

const heartbeatInterval = 30 * time.Second

// ClientTransport manages a single multiplexed TCP connection.
// Each request gets a unique sequence ID, and a background goroutine (recvLoop)
// continuously reads response frames and routes them to the waiting caller.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan → goroutine-2 wakes up
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType // JSON engine the server should answer with
	seq     atomic.Uint32
	pending sync.Map   // map[uint32]chan frameResult
	sending sync.Mutex // whole frames must be written atomically

	closeOnce sync.Once
	closed    chan struct{}
}

type frameResult struct {
	body []byte
	err  error
}

// NewClientTransport creates a transport for conn and starts the receive and heartbeat loops.
func NewClientTransport(conn net.Conn, codecType codec.CodecType) *ClientTransport {
	t := &ClientTransport{
		conn:   conn,
		codec:  codecType,
		closed: make(chan struct{}),
	}
	go t.recvLoop()
	go t.heartbeatLoop(heartbeatInterval)
	return t
}

// Send writes one request envelope and returns its sequence number and the
// channel its response will arrive on.
func (t *ClientTransport) Send(body []byte) (uint32, <-chan frameResult, error) {
	select {
	case <-t.closed:
		return 0, nil, ErrConnClosed
	default:
	}

	seq := t.seq.Add(1)
	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
		BodyLen:   uint32(len(body)),
	}

	// Register before writing, the response may beat us back
	respChan := make(chan frameResult, 1)
	t.pending.Store(seq, respChan)
	if t.Closed() {
		t.pending.Delete(seq)
		return 0, nil, ErrConnClosed
	}

	t.sending.Lock()
	err := protocol.Encode(t.conn, &header, body)
	t.sending.Unlock()
	if err != nil {
		t.pending.Delete(seq)
		t.Close()
		return 0, nil, err
	}

	return seq, respChan, nil
}

// Forget drops a pending call whose caller stopped waiting.
func (t *ClientTransport) Forget(seq uint32) {
	t.pending.Delete(seq)
}

// recvLoop is the single reader of the connection. Frame boundaries can only be
// parsed sequentially, so there is exactly one.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}
		if channel, ok := t.pending.LoadAndDelete(header.Seq); ok {
			channel.(chan frameResult) <- frameResult{body: body}
		}
	}
}

// shutdown closes the connection and fails every pending caller so none blocks forever.
func (t *ClientTransport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		close(t.closed)
		t.conn.Close()
	})
	if cause == nil {
		cause = ErrConnClosed
	}
	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan frameResult) <- frameResult{err: errors.Join(ErrConnClosed, cause)}
		}
		return true
	})
}

// Close shuts the connection down. Pending calls fail with ErrConnClosed.
func (t *ClientTransport) Close() error {
	t.shutdown(nil)
	return nil
}

// Closed reports whether the connection is no longer usable.
func (t *ClientTransport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// heartbeatLoop sends body-less heartbeat frames so idle connections stay open.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			CodecType: byte(t.codec),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.shutdown(err)
			return
		}
	}
}

// FramedDispatcher dispatches over one lazily dialed ClientTransport, redialing
// after the connection breaks.
type FramedDispatcher struct {
	addr    string
	version string
	codec   codec.CodecType
	dialer  net.Dialer
	logger  *zap.Logger

	mu sync.Mutex
	ct *ClientTransport
}

// FramedOption configures a FramedDispatcher.
type FramedOption func(*FramedDispatcher)

// WithFramedCodec selects the JSON engine the server answers with.
func WithFramedCodec(c codec.CodecType) FramedOption {
	return func(d *FramedDispatcher) {
		d.codec = c
	}
}

// WithDialTimeout bounds connection establishment.
func WithDialTimeout(timeout time.Duration) FramedOption {
	return func(d *FramedDispatcher) {
		d.dialer.Timeout = timeout
	}
}

// WithFramedLogger sets the logger; nil disables logging.
func WithFramedLogger(logger *zap.Logger) FramedOption {
	return func(d *FramedDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewFramedDispatcher creates a dispatcher for addr that reports version as the
// negotiated API version. No connection is made until the first call.
func NewFramedDispatcher(addr, version string, opts ...FramedOption) *FramedDispatcher {
	d := &FramedDispatcher{
		addr:    addr,
		version: version,
		codec:   codec.CodecTypeJSON,
		dialer:  net.Dialer{Timeout: 5 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *FramedDispatcher) Version() string {
	return d.version
}

func (d *FramedDispatcher) transport(ctx context.Context) (*ClientTransport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ct != nil && !d.ct.Closed() {
		return d.ct, nil
	}
	conn, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("connected", zap.String("addr", d.addr))
	d.ct = NewClientTransport(conn, d.codec)
	return d.ct, nil
}

// DispatchRequest sends request and waits for the matching response frame or ctx.
func (d *FramedDispatcher) DispatchRequest(ctx context.Context, request []byte) ([]byte, error) {
	ct, err := d.transport(ctx)
	if err != nil {
		return nil, err
	}

	seq, ch, err := ct.Send(request)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		return res.body, res.err
	case <-ctx.Done():
		ct.Forget(seq)
		return nil, ctx.Err()
	}
}

// Close drops the current connection, if any.
func (d *FramedDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ct == nil {
		return nil
	}
	err := d.ct.Close()
	d.ct = nil
	return err
}

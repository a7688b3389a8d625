package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/Cheese-TicTacToe/internal/obslog"
	"github.com/park285/Cheese-TicTacToe/internal/protocol"
	"github.com/park285/Cheese-TicTacToe/pkg/tttdto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var (
	ErrClosed       = errors.New("ws: connection closed")
	ErrSlowConsumer = errors.New("ws: send queue full")
)

type Options struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	ReadLimit    int64
	// AllowedOrigins are host patterns accepted in the Origin header besides
	// the request host. A single "*" disables the check.
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server upgrades HTTP requests and pumps frames between sockets and the
// protocol handler.
type Server struct {
	h    *protocol.Handler
	opts Options
	wg   sync.WaitGroup
}

func NewServer(h *protocol.Handler, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = 16 << 10
	}
	if opts.Logger == nil {
		opts.Logger = obslog.L()
	}
	return &Server{h: h, opts: opts}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	ao := &websocket.AcceptOptions{CompressionMode: websocket.CompressionNoContextTakeover}
	if len(s.opts.AllowedOrigins) == 1 && s.opts.AllowedOrigins[0] == "*" {
		ao.InsecureSkipVerify = true
	} else {
		ao.OriginPatterns = s.opts.AllowedOrigins
	}
	return ao
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.opts.Logger.Info("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	sock.SetReadLimit(s.opts.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	c := &Conn{
		id:     uuid.NewString(),
		sock:   sock,
		queue:  make(chan tttdto.OutEnvelope, s.opts.SendBuffer),
		stopCh: make(chan struct{}),
		opts:   s.opts,
	}
	s.opts.Logger.Info("ws_accept", zap.String("conn_id", c.id), zap.String("remote", r.RemoteAddr))

	s.wg.Add(1)
	defer s.wg.Done()
	s.h.Connect(c)
	go c.writePump(ctx)
	go c.pingLoop(ctx)

	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !c.isStopping() {
				s.opts.Logger.Debug("ws_read_error", zap.String("conn_id", c.id), zap.Error(err))
			}
			break
		}
		s.h.HandleMessage(ctx, c.id, data)
	}
	s.h.Disconnect(ctx, c.id)
	_ = c.Close("bye")
	s.opts.Logger.Info("ws_close", zap.String("conn_id", c.id))
}

// Wait blocks until every connection served so far has been released.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Conn is a server-side socket with a bounded outbound queue.
type Conn struct {
	id     string
	sock   *websocket.Conn
	queue  chan tttdto.OutEnvelope
	opts   Options
	stopCh chan struct{}
	once   sync.Once
}

var _ protocol.Conn = (*Conn)(nil)

func (c *Conn) ID() string { return c.id }

// Send queues a frame. A client that cannot keep up is disconnected.
func (c *Conn) Send(ctx context.Context, event string, data any) error {
	if c.isStopping() {
		return ErrClosed
	}
	env := tttdto.OutEnvelope{Event: event, Data: data}
	select {
	case c.queue <- env:
		return nil
	case <-c.stopCh:
		return ErrClosed
	default:
	}
	select {
	case c.queue <- env:
		return nil
	case <-c.stopCh:
		return ErrClosed
	case <-ctx.Done():
		_ = c.closeWith(websocket.StatusPolicyViolation, "slow consumer")
		return ErrSlowConsumer
	}
}

func (c *Conn) Close(reason string) error {
	return c.closeWith(websocket.StatusNormalClosure, reason)
}

func (c *Conn) closeWith(code websocket.StatusCode, reason string) error {
	var err error
	c.once.Do(func() {
		close(c.stopCh)
		err = c.sock.Close(code, reason)
	})
	return err
}

func (c *Conn) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Conn) writePump(ctx context.Context) {
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case env := <-c.queue:
			wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
			err := wsjson.Write(wctx, c.sock, env)
			cancel()
			if err != nil {
				c.opts.Logger.Debug("ws_write_error", zap.String("conn_id", c.id), zap.String("event", env.Event), zap.Error(err))
				_ = c.closeWith(websocket.StatusGoingAway, "write failure")
				return
			}
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context) {
	t := time.NewTicker(c.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := c.sock.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = c.closeWith(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

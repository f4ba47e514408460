package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/RetroHub/internal/adapters/identity"
	"github.com/dkeye/RetroHub/internal/app/orch"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// SignalLimit bounds offers and netplay signals per user within SignalWindow.
	SignalLimit  int
	SignalWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 30 * time.Second
	}
	if o.SignalLimit <= 0 {
		o.SignalLimit = 20
	}
	if o.SignalWindow <= 0 {
		o.SignalWindow = 10 * time.Second
	}
	return o
}

// SignalWSController serves the per-user event stream and accepts
// voice and netplay signaling on the same socket.
type SignalWSController struct {
	Orch    *orch.Orchestrator
	opts    Options
	limiter *RateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	return &SignalWSController{
		Orch:    o,
		opts:    opts,
		limiter: NewRateLimiter(opts.SignalLimit, opts.SignalWindow),
	}
}

// WsSignalConn owns the websocket. Only the write pump writes to it.
type WsSignalConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

// TrySend queues a control frame without blocking.
func (c *WsSignalConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleEvents upgrades the request and runs the stream until either side goes away.
// The presence subscription is released on every exit path of the read pump.
func (ctl *SignalWSController) HandleEvents(ctx context.Context, c *gin.Context) {
	user, ok := identity.UserID(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := &WsSignalConn{
		id:   uuid.NewString(),
		conn: ws,
		send: make(chan []byte, 32),
	}
	log.Info().Str("module", "signal").Int64("user", int64(user)).Str("conn", conn.id).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	sub := ctl.Orch.Connect(ctx, user)

	go ctl.writePump(ctx, cancel, conn, sub)
	go ctl.readPump(ctx, cancel, conn, sub)
}

package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/cockpit/internal/loop"
	"github.com/loykin/cockpit/internal/metrics"
)

const DefaultReconnectDelay = 3 * time.Second

// PushConfig configures a push transport.
type PushConfig struct {
	URL            string
	Dialer         Dialer
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Push keeps one socket open and reconnects after a fixed delay whenever it
// drops. All methods must be called on the executor.
type Push struct {
	exec     loop.Executor
	cfg      PushConfig
	listener Listener
	logger   *slog.Logger

	// gen identifies the current connection attempt. Events tagged with an
	// older generation belong to a connection that was replaced or closed.
	gen       uint64
	conn      Conn
	cancel    context.CancelFunc
	reconnect loop.Timer
	dialing   bool
	connected bool
	closed    bool

	startReader func(gen uint64, c Conn)
}

func NewPush(exec loop.Executor, cfg PushConfig, l Listener) *Push {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Push{exec: exec, cfg: cfg, listener: l, logger: cfg.Logger}
	p.startReader = func(gen uint64, c Conn) { go p.readPump(gen, c) }
	return p
}

// Open starts connecting. Calling it while a connection or reconnect is
// already in progress does nothing.
func (p *Push) Open() {
	if p.closed || p.dialing || p.conn != nil || p.reconnect != nil {
		return
	}
	p.dial()
}

func (p *Push) Connected() bool { return p.connected }

// Close cancels any scheduled reconnect, detaches from the current
// connection and closes it. Later events from that connection are ignored.
func (p *Push) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.gen++
	if p.reconnect != nil {
		p.reconnect.Stop()
		p.reconnect = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.dialing = false
	p.connected = false
}

func (p *Push) dial() {
	p.gen++
	gen := p.gen
	p.dialing = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	dialer, url := p.cfg.Dialer, p.cfg.URL
	p.exec.Go(func() func() {
		conn, err := dialer.Dial(ctx, url)
		return func() { p.handleDial(gen, conn, err) }
	})
}

func (p *Push) handleDial(gen uint64, conn Conn, err error) {
	if p.closed || gen != p.gen {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	p.dialing = false
	if err != nil {
		p.logger.Warn("socket connect failed", "url", p.cfg.URL, "error", err)
		p.handleClose(gen, err)
		return
	}
	p.conn = conn
	p.connected = true
	p.logger.Info("socket connected", "url", p.cfg.URL)
	p.listener.OnConnectivity(true)
	p.startReader(gen, conn)
}

func (p *Push) handleFrame(gen uint64, data []byte) {
	if p.closed || gen != p.gen {
		return
	}
	ev, err := DecodeFrame(data)
	if err != nil {
		p.logger.Warn("dropping socket frame", "error", err)
		return
	}
	switch ev.Type {
	case FrameStatus:
		p.listener.OnStatus(ev.Status)
	case FrameLog:
		p.listener.OnLog(ev.Log)
	}
}

func (p *Push) handleClose(gen uint64, err error) {
	if p.closed || gen != p.gen || p.reconnect != nil {
		return
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.dialing = false
	p.connected = false
	p.logger.Info("socket disconnected", "error", err, "retry_in", p.cfg.ReconnectDelay)
	p.listener.OnConnectivity(false)
	p.scheduleReconnect()
}

func (p *Push) scheduleReconnect() {
	if p.reconnect != nil {
		return
	}
	p.reconnect = p.exec.AfterFunc(p.cfg.ReconnectDelay, func() {
		p.reconnect = nil
		if p.closed {
			return
		}
		metrics.IncReconnect()
		p.dial()
	})
}

// readPump runs off the loop and forwards every message until the
// connection fails.
func (p *Push) readPump(gen uint64, c Conn) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			p.exec.Post(func() { p.handleClose(gen, err) })
			return
		}
		if !p.exec.Post(func() { p.handleFrame(gen, data) }) {
			_ = c.Close()
			return
		}
	}
}

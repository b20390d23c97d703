package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loykin/cockpit/internal/metrics"
	"github.com/loykin/cockpit/internal/status"
	"github.com/loykin/cockpit/internal/transport"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
)

// Origin checks are off: the panel is commonly reached through notebook
// proxies whose origin differs from the API host.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (r *Router) handleSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	id := uuid.NewString()
	log := r.logger.With("client", id, "remote", c.ClientIP())
	log.Info("socket connected")
	metrics.AddSocketClients(1)

	statusCh, unsubStatus := r.status.subscribe()
	var logCh <-chan string
	unsubLogs := func() {}
	if r.opts.Logs != nil {
		logCh, unsubLogs = r.opts.Logs.Subscribe()
	}
	if _, ok := r.status.latest(); !ok {
		// no sampler yet: take the first sample for this client
		go r.status.sample(c.Request.Context())
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		readLoop(conn)
	}()

	writeLoop(conn, statusCh, logCh, done, log)

	unsubStatus()
	unsubLogs()
	_ = conn.Close()
	<-done
	metrics.AddSocketClients(-1)
	log.Info("socket disconnected")
}

// readLoop discards client messages and returns when the connection fails.
func readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeLoop(conn *websocket.Conn, statusCh <-chan status.Status, logCh <-chan string, done <-chan struct{}, log *slog.Logger) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		var frame []byte
		var err error
		select {
		case <-done:
			return
		case st := <-statusCh:
			frame, err = transport.StatusFrame(st)
		case line, ok := <-logCh:
			if !ok {
				logCh = nil
				continue
			}
			frame, err = transport.LogFrame(line)
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}
		if err != nil {
			log.Debug("encode frame failed", "error", err)
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Debug("socket write failed", "error", err)
			return
		}
	}
}

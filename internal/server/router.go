package server

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/cockpit/internal/controller"
	"github.com/loykin/cockpit/internal/history"
	"github.com/loykin/cockpit/internal/logtail"
	"github.com/loykin/cockpit/internal/release"
)

// DefaultStatusInterval is how often the socket status is sampled.
const DefaultStatusInterval = time.Second

// Options wires the router to its collaborators. Logs and History are
// optional.
type Options struct {
	// Prefix is "{base_path}/{namespace}"; routes hang below it.
	Prefix         string
	Token          string
	Controller     controller.Controller
	Releases       release.Manager
	Logs           *logtail.Broadcaster
	History        *history.Recorder
	StatusInterval time.Duration
	Logger         *slog.Logger
}

// Router provides embeddable HTTP handlers for the cockpit API.
// Endpoints:
//
//	GET  {prefix}/process                  current process status
//	POST {prefix}/process   body: {action} start, stop or restart
//	GET  {prefix}/version[?action=list]    current version or tag list
//	POST {prefix}/version   body: {version} switch version
//	GET  {prefix}/socket                   websocket status and log frames
type Router struct {
	opts   Options
	prefix string
	logger *slog.Logger
	status *statusHub

	recording sync.WaitGroup
}

// NewRouter constructs a Router. Example prefix: "/comfyui-cockpit".
func NewRouter(opts Options) *Router {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	l = l.With("component", "server")
	return &Router{
		opts:   opts,
		prefix: sanitizeBase(opts.Prefix),
		logger: l,
		status: newStatusHub(opts.Controller, opts.StatusInterval, l),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.prefix)
	if r.opts.Token != "" {
		group.Use(r.requireToken)
	}
	group.GET("/process", r.handleGetProcess)
	group.POST("/process", r.handlePostProcess)
	group.GET("/version", r.handleGetVersion)
	group.POST("/version", r.handlePostVersion)
	group.GET("/socket", r.handleSocket)
	return g
}

// Run samples the process status for socket clients and state metrics
// until ctx is done.
func (r *Router) Run(ctx context.Context) { r.status.run(ctx) }

// CurrentPID returns the pid in the last sampled status message.
func (r *Router) CurrentPID() (int32, bool) {
	st, ok := r.status.latest()
	if !ok {
		return 0, false
	}
	pid, ok := st.PID()
	return int32(pid), ok
}

// Close waits for pending history writes.
func (r *Router) Close() { r.recording.Wait() }

func (r *Router) requireToken(c *gin.Context) {
	if !tokenMatches(requestToken(c), r.opts.Token) {
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "unauthorized"})
		c.Abort()
		return
	}
	c.Next()
}

// NewServer wraps h in an http.Server with the timeouts used for the API.
// WriteTimeout stays unset because version switches and sockets are long.
func NewServer(addr string, h http.Handler, tlsCfg *tls.Config) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()
	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// recordAsync stores e in the history sinks without delaying the response.
func (r *Router) recordAsync(e history.Event) {
	if !r.opts.History.Enabled() {
		return
	}
	r.recording.Add(1)
	go func() {
		defer r.recording.Done()
		_ = r.opts.History.Record(context.Background(), e)
	}()
}

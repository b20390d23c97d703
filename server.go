package cockpit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/cockpit/internal/controller"
	"github.com/loykin/cockpit/internal/history"
	"github.com/loykin/cockpit/internal/history/factory"
	"github.com/loykin/cockpit/internal/logtail"
	"github.com/loykin/cockpit/internal/metrics"
	"github.com/loykin/cockpit/internal/release"
	iapi "github.com/loykin/cockpit/internal/server"
	ctls "github.com/loykin/cockpit/internal/tls"
)

// Server is the controller side: the HTTP API in front of supervisord (or
// the dummy process), its log follower, history and metrics listener.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	router  *iapi.Router
	logs    *logtail.Broadcaster
	history *history.Recorder
	closers []io.Closer
}

// NewServer wires a controller from cfg. Nothing listens until Run.
func NewServer(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger, logs: logtail.NewBroadcaster(logtail.DefaultBuffer)}

	var ctl controller.Controller
	var releases release.Manager
	if cfg.Controller.Dummy {
		var w io.Writer
		if cfg.ProcessLog.Path != "" {
			wc := cfg.Log.Logger().File.Writer(cfg.ProcessLog.Path)
			s.closers = append(s.closers, wc)
			w = wc
		}
		ctl = controller.NewDummy(controller.DummyConfig{
			Service:    cfg.Controller.Service,
			StartDelay: cfg.Controller.DummyStartDelay,
			Log:        w,
			Logger:     logger,
		})
		releases = release.Dummy{}
		logger.Warn("Running in dummy mode, no process is controlled")
	} else {
		ctl = controller.NewSupervisor(controller.SupervisorConfig{
			Service: cfg.Controller.Service,
			Binary:  cfg.Controller.Supervisorctl,
			Logger:  logger,
		})
		releases = release.NewGit(release.Config{
			Path:        cfg.Release.ComfyUIPath,
			Git:         cfg.Release.Git,
			Pip:         cfg.Release.Pip,
			MaxVersions: cfg.Release.MaxVersions,
			Controller:  ctl,
			Logger:      logger,
		})
	}

	rec, err := factory.NewRecorderFromDSNs(cfg.History.DSNs, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("history: %w", err)
	}
	s.history = rec

	s.router = iapi.NewRouter(iapi.Options{
		Prefix:     cfg.Server.Prefix(),
		Token:      cfg.Server.Token,
		Controller: ctl,
		Releases:   releases,
		Logs:       s.logs,
		History:    rec,
		Logger:     logger,
	})
	return s, nil
}

// Handler returns the API routes for mounting in another server. The status
// feed of /socket only runs while Run (or RunStatus) is active.
func (s *Server) Handler() http.Handler { return s.router.Handler() }

// RunStatus samples the process for socket clients until ctx is done. Use it
// when mounting Handler elsewhere instead of calling Run.
func (s *Server) RunStatus(ctx context.Context) { s.router.Run(ctx) }

// registerMetrics is swapped in tests.
var registerMetrics = metrics.Register

// Run listens on [server].listen (and [metrics].listen when enabled) until
// ctx is done, then releases everything NewServer opened.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	tlsCfg, err := ctls.SetupTLS(s.cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	if s.cfg.Metrics.Enabled {
		if err := registerMetrics(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.router.Run(ctx)
		return nil
	})

	if path := s.cfg.ProcessLog.Path; path != "" {
		done, err := logtail.NewFollower(path, s.logs.Publish, s.logger).Start(ctx)
		if err != nil {
			s.logger.Warn("Process log not followed", "path", path, "error", err)
		} else {
			g.Go(func() error {
				<-done
				return nil
			})
		}
	}

	if s.cfg.Metrics.Enabled {
		sampler := metrics.NewProcessSampler(0, s.router.CurrentPID, s.logger)
		sampler.Start(ctx)
		defer sampler.Stop()

		msrv := iapi.NewServer(s.cfg.Metrics.Listen, iapi.MetricsHandler(), nil)
		s.logger.Info("Metrics listening", "addr", msrv.Addr)
		g.Go(func() error { return iapi.Serve(ctx, msrv) })
	}

	srv := iapi.NewServer(s.cfg.Server.Listen, s.router.Handler(), tlsCfg)
	s.logger.Info("Cockpit listening",
		"addr", srv.Addr,
		"prefix", s.cfg.Server.Prefix(),
		"tls", tlsCfg != nil,
		"dummy", s.cfg.Controller.Dummy,
		"history", s.history.Enabled(),
	)
	g.Go(func() error {
		err := iapi.Serve(ctx, srv)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close waits for in-flight history writes and closes sinks and log files.
// Run calls it on return.
func (s *Server) Close() {
	if s.router != nil {
		s.router.Close()
	}
	s.logs.Close()
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Warn("Closing history", "error", err)
		}
		s.history = nil
	}
	for _, c := range s.closers {
		_ = c.Close()
	}
	s.closers = nil
}

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hibiki-dev/hibikid/internal/config"
	"github.com/hibiki-dev/hibikid/internal/daemon"
	"github.com/hibiki-dev/hibikid/internal/engine"
	"github.com/hibiki-dev/hibikid/internal/events"
	"github.com/hibiki-dev/hibikid/internal/history"
	"github.com/hibiki-dev/hibikid/internal/voicebank"
)

// Runtime wires the engine, voicebank, history store, event publisher and
// socket server together and runs them until the context is cancelled.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	eng, err := buildEngine(r.cfg)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	models, err := r.discoverModels()
	if err != nil {
		return fmt.Errorf("failed to discover models: %w", err)
	}

	registry, speakers, err := voicebank.Build(ctx, eng, models, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build voicebank: %w", err)
	}

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}

	pub, err := events.Connect(r.cfg.Events, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect event publisher: %w", err)
	}

	srv, err := daemon.New(r.cfg, eng, registry, models, speakers, hist, pub, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" {
		r.startMetricsServer(bind, metricHandler)
	}

	r.ready.Store(true)
	r.logger.Info("daemon started", slog.String("socket", srv.SocketPath()))

	<-ctx.Done()
	r.logger.Info("daemon stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics server shutdown error", slog.String("error", err.Error()))
		}
	}
	srv.Close()
	pub.Close()
	if err := hist.Close(); err != nil {
		r.logger.Error("history close error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

// discoverModels scans the models directory in exec mode. Mock mode takes
// its model list straight from config so development needs no model files.
func (r *Runtime) discoverModels() ([]voicebank.Model, error) {
	if r.cfg.Engine.Mode == "mock" {
		models := make([]voicebank.Model, 0, len(r.cfg.Engine.MockModels))
		for _, m := range r.cfg.Engine.MockModels {
			models = append(models, voicebank.Model{
				ID:   m.ID,
				Path: fmt.Sprintf("%d_%s%s", m.ID, m.Name, r.cfg.Models.Extension),
			})
		}
		return models, nil
	}
	return voicebank.Scan(r.cfg.Models.Dir, r.cfg.Models.Extension, r.logger)
}

func buildEngine(cfg config.Config) (engine.Engine, error) {
	switch cfg.Engine.Mode {
	case "mock":
		voices := make([]engine.MockVoice, 0, len(cfg.Engine.MockModels))
		for _, m := range cfg.Engine.MockModels {
			styles := make([]engine.Style, 0, len(m.Styles))
			for _, id := range m.Styles {
				styles = append(styles, engine.Style{ID: id, Name: fmt.Sprintf("%s-%d", m.Name, id)})
			}
			voices = append(voices, engine.MockVoice{ID: m.ID, Name: m.Name, Styles: styles})
		}
		return engine.NewMock(voices), nil
	case "exec":
		return engine.NewExec(cfg.Engine.Command, cfg.Engine.SampleRate)
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Engine.Mode)
	}
}

func (r *Runtime) startMetricsServer(bind string, metricHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	r.httpServer = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("metrics server listening", slog.String("addr", bind))
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soochol/deskflow/internal/actions"
	"github.com/soochol/deskflow/internal/analytics"
	"github.com/soochol/deskflow/internal/api"
	"github.com/soochol/deskflow/internal/config"
	"github.com/soochol/deskflow/internal/conversation"
	"github.com/soochol/deskflow/internal/crypto"
	"github.com/soochol/deskflow/internal/engine"
	"github.com/soochol/deskflow/internal/escalation"
	"github.com/soochol/deskflow/internal/notify"
	"github.com/soochol/deskflow/internal/services"
	"github.com/soochol/deskflow/internal/triage"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "serve" {
		if err := serve(); err != nil {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
		return
	}
	fmt.Printf("deskflow v%s\n", version)
	fmt.Println("Usage: deskflow serve")
}

func serve() error {
	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	key, err := crypto.ParseKey(cfg.Auth.EncryptionKey)
	if err != nil {
		return err
	}
	enc, err := crypto.NewEncryptor(key)
	if err != nil {
		return err
	}
	if !enc.Enabled() {
		slog.Warn("no encryption key configured, connection secrets are stored in plaintext")
	}
	connSvc := services.NewConnectionService(st.connections, enc)

	notifier := notify.NewDispatcher(notify.DefaultSenders(), connSvc,
		notify.WithHooks(notify.NewMetrics(reg).Hooks()))
	transitions := conversation.NewTransitioner(st.conversations)

	registry := actions.NewDefaultRegistry(actions.Deps{
		Conversations: st.conversations,
		Transitions:   transitions,
		Notifier:      notifier,
		Connections:   connSvc,
		HTTPClient:    &http.Client{Timeout: cfg.Engine.ActionTimeout},
		Retry:         cfg.Engine.Retry,
	})

	bus := engine.NewEventBus()
	bus.Subscribe(func(e engine.Event) {
		slog.Debug("execution event", "type", e.Type, "execution", e.ExecutionID, "node", e.NodeID)
	})
	eng := engine.New(st.executions, st.workflows, st.wakeups, registry,
		engine.WithEventBus(bus),
		engine.WithHooks(engine.NewMetrics(reg).Hooks()),
		engine.WithActionTimeout(cfg.Engine.ActionTimeout),
		engine.WithConversations(st.conversations, cfg.Engine.HistoryLimit),
	)
	esc := escalation.New(st.escalations, st.conversations, st.ledger, st.results, notifier,
		escalation.WithHooks(escalation.NewMetrics(reg).Hooks()),
		escalation.WithHistoryLimit(cfg.Escalation.HistoryLimit),
		escalation.WithTransitioner(transitions),
	)
	tri := triage.New(st.triageRules, st.conversations,
		triage.WithWeights(triage.Weights{
			Base:          cfg.Triage.BaseScore,
			Sentiment:     cfg.Triage.SentimentWeight,
			WaitPerMinute: cfg.Triage.WaitPerMinute,
			Urgent:        cfg.Triage.UrgentAt,
			High:          cfg.Triage.HighAt,
			Normal:        cfg.Triage.NormalAt,
		}),
		triage.WithScoreCache(cfg.Triage.CacheScores),
		triage.WithHooks(triage.NewMetrics(reg).Hooks()),
	)

	automation := services.NewAutomationService(st.conversations, st.workflows, eng, esc, tri,
		services.WithLimiter(services.NewConcurrencyLimiter(cfg.Engine.Concurrency)))
	rules := services.NewRuleService(st.escalations, st.triageRules, st.workflows, eng)

	scheduler := services.NewDelayScheduler(st.wakeups, eng,
		services.WithPollInterval(cfg.Engine.DelayPollInterval))
	if _, err := services.RecoverOrphans(ctx, st.executions, eng, scheduler); err != nil {
		return fmt.Errorf("recover executions: %w", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	srv := api.NewServer(api.Deps{
		Automation:  automation,
		Rules:       rules,
		Connections: connSvc,
		Triage:      tri,
		Analytics:   analytics.New(st.workflows, st.executions, st.results),
		Engine:      eng,
		Executions:  st.executions,
	})
	if cfg.Auth.JWTSecret != "" {
		srv.SetJWTSecret(cfg.Auth.JWTSecret)
	} else {
		slog.Warn("no JWT secret configured, API authentication is disabled")
	}
	srv.SetCORSOrigins(cfg.Server.CORSOrigins)
	srv.SetMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting deskflow server", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

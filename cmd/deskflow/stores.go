package main

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/soochol/deskflow/internal/config"
	"github.com/soochol/deskflow/internal/db"
	"github.com/soochol/deskflow/internal/repository"
)

// stores bundles every repository the server needs.
type stores struct {
	workflows     repository.WorkflowRepository
	executions    repository.ExecutionRepository
	wakeups       repository.WakeupRepository
	conversations repository.ConversationRepository
	escalations   repository.EscalationRepository
	triageRules   repository.TriageRuleRepository
	results       repository.TriggerResultRepository
	connections   repository.ConnectionRepository
	ledger        repository.EscalationLedger

	closers []func() error
}

func (s *stores) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			slog.Warn("close store", "err", err)
		}
	}
}

// openStores selects PostgreSQL when a database URL is configured and the
// in-memory stores otherwise. A configured Redis takes over the escalation
// dedupe ledger.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	var s *stores
	if cfg.Database.URL == "" {
		slog.Warn("no database configured, state is kept in memory only")
		s = &stores{
			workflows:     repository.NewMemory(),
			executions:    repository.NewMemoryExecutionRepository(),
			wakeups:       repository.NewMemoryWakeupRepository(),
			conversations: repository.NewMemoryConversationRepository(),
			escalations:   repository.NewMemoryEscalationRepository(),
			triageRules:   repository.NewMemoryTriageRuleRepository(),
			results:       repository.NewMemoryTriggerResultRepository(),
			connections:   repository.NewMemoryConnectionRepository(),
			ledger:        repository.NewMemoryEscalationLedger(),
		}
	} else {
		database, err := db.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, err
		}
		slog.Info("connected to postgres")
		s = &stores{
			workflows:     repository.NewPersistent(database),
			executions:    repository.NewPersistentExecutionRepository(database),
			wakeups:       repository.NewPersistentWakeupRepository(database),
			conversations: repository.NewPersistentConversationRepository(database),
			escalations:   repository.NewPersistentEscalationRepository(database),
			triageRules:   repository.NewPersistentTriageRuleRepository(database),
			results:       repository.NewPersistentTriggerResultRepository(database),
			connections:   repository.NewPersistentConnectionRepository(database),
			ledger:        repository.NewPostgresEscalationLedger(database),
			closers:       []func() error{database.Close},
		}
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			s.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		slog.Info("escalation ledger on redis", "addr", cfg.Redis.Addr)
		s.ledger = repository.NewRedisEscalationLedger(client, repository.WithLedgerTTL(cfg.Escalation.DedupeTTL))
		s.closers = append(s.closers, client.Close)
	}
	return s, nil
}

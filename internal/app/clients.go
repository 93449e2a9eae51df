package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/datatypes"

	"github.com/attunehealth/attune-backend/internal/llm"
	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/repos"
	"github.com/attunehealth/attune-backend/internal/types"
)

type Clients struct {
	AI    llm.Client
	Redis *goredis.Client
}

func wireClients(log *logger.Logger, cfg Config, callLog repos.AICallLogRepo) (Clients, error) {
	log.Info("Wiring clients...")

	// Redis backs the cross-instance patient lock. Without it the hypothesis
	// writer falls back to in-process locking.
	var rdb *goredis.Client
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:        cfg.RedisAddr,
			DialTimeout: 5 * time.Second,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return Clients{}, fmt.Errorf("redis ping: %w", err)
		}
	}

	ai, err := llm.NewClient(log, cfg.LLM, aiCallObserver(log, callLog))
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return Clients{}, fmt.Errorf("init llm client: %w", err)
	}

	return Clients{
		AI:    ai,
		Redis: rdb,
	}, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}

const maxLoggedFieldLen = 8000

func truncateForLog(s string) string {
	if len(s) <= maxLoggedFieldLen {
		return s
	}
	return s[:maxLoggedFieldLen] + "..."
}

// aiCallObserver writes one ai_call_log row per model call, attributed via
// the call scope the pipeline stamps on its context. Rows are written on a
// detached context so a cancelled pipeline still gets its call logged.
func aiCallObserver(log *logger.Logger, callLog repos.AICallLogRepo) llm.CallObserver {
	obsLog := log.With("service", "AICallObserver")
	return func(ctx context.Context, rec llm.CallRecord) {
		scope := llm.ScopeFrom(ctx)
		entry := &types.AICallLog{
			SessionID: scope.SessionID,
			PatientID: scope.PatientID,
			CallType:  rec.CallType,
			Model:     rec.Model,
			Prompt:    truncateForLog(rec.Prompt),
			Response:  truncateForLog(rec.Response),
			Success:   rec.Err == nil,
			LatencyMS: rec.Elapsed.Milliseconds(),
		}
		if rec.Err != nil {
			entry.Error = rec.Err.Error()
		}
		if len(rec.Usage) > 0 {
			entry.Usage = datatypes.JSON(rec.Usage)
		}

		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := callLog.Create(writeCtx, nil, []*types.AICallLog{entry}); err != nil {
			obsLog.Warn("ai call log write failed", "call_type", rec.CallType, "error", err.Error())
		}
	}
}

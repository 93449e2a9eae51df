package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/attunehealth/attune-backend/internal/logger"
)

// PatientLocker serializes hypothesis updates per patient. Concurrent
// pipelines for the same patient would race on read-modify-write of the
// hypothesis row, so writers hold this lock across the whole update.
type PatientLocker interface {
	Acquire(ctx context.Context, patientID uuid.UUID) (release func(), err error)
}

type localPatientLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]chan struct{}
}

// NewLocalPatientLocker serializes within a single process. Sufficient for a
// single-instance deployment; multi-instance deployments use the Redis
// variant.
func NewLocalPatientLocker() PatientLocker {
	return &localPatientLocker{slots: make(map[uuid.UUID]chan struct{})}
}

func (l *localPatientLocker) slotFor(patientID uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[patientID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[patientID] = slot
	}
	return slot
}

func (l *localPatientLocker) Acquire(ctx context.Context, patientID uuid.UUID) (func(), error) {
	slot := l.slotFor(patientID)
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type redisPatientLocker struct {
	log *logger.Logger
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisPatientLocker serializes across instances with SET NX leases. The
// TTL bounds how long a crashed holder can block other writers.
func NewRedisPatientLocker(log *logger.Logger, rdb *redis.Client, ttl time.Duration) PatientLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &redisPatientLocker{
		log: log.With("service", "RedisPatientLocker"),
		rdb: rdb,
		ttl: ttl,
	}
}

// releaseScript deletes the lease only when the caller still owns it, so a
// slow holder cannot release a lease that already expired and moved on.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func (l *redisPatientLocker) Acquire(ctx context.Context, patientID uuid.UUID) (func(), error) {
	key := fmt.Sprintf("attune:patient_lock:%s", patientID)
	token := uuid.NewString()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire patient lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.rdb, []string{key}, token).Err(); err != nil {
			l.log.Warn("patient lock release failed", "patient_id", patientID, "error", err.Error())
		}
	}
	return release, nil
}

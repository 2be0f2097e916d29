package utils

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/metrics"
	"github.com/bsm/redislock"
)

const sequenceLockTTL = 30 * time.Second

var sequenceMutexes sync.Map // name -> *sync.Mutex

func sequenceMutex(name string) *sync.Mutex {
	m, _ := sequenceMutexes.LoadOrStore(name, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// ObtainSequenceLock serializes writers of one sequence. The process-local mutex
// is always taken; with redis configured a redislock key guards other processes too.
// The returned release func must be called once the owning transaction has finished.
func ObtainSequenceLock(ctx context.Context, name string) (func(), error) {
	m := sequenceMutex(name)
	m.Lock()

	locker := config.GetRedisLock()
	if locker == nil {
		return m.Unlock, nil
	}

	retry := redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), config.SequenceLockRetries())
	lock, err := locker.Obtain(ctx, "sequence:"+name, sequenceLockTTL, &redislock.Options{RetryStrategy: retry})
	if err != nil {
		m.Unlock()
		if errors.Is(err, redislock.ErrNotObtained) {
			metrics.SequenceLockFailures.WithLabelValues(name).Inc()
			config.LogError(config.GetLogger(), "Sequence", "ObtainSequenceLock", "could not obtain sequence lock", name, err)
			return nil, &ConcurrencyError{Resource: name + " sequence", Err: err}
		}
		return nil, err
	}

	return func() {
		// the caller's ctx may be cancelled by now
		if rerr := lock.Release(context.Background()); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
			config.LogError(config.GetLogger(), "Sequence", "ObtainSequenceLock", "release sequence lock", name, rerr)
		}
		m.Unlock()
	}, nil
}

package service

import (
	"context"
	"time"

	dErrors "organlink/pkg/domain-errors"
)

// Writes for one allocation are serialized in-process by hashing its id onto
// one of numAllocationShards locks. Revision checks stay authoritative across
// processes; the lock only keeps local callers from burning their retry.
const numAllocationShards = 64

const defaultLockTimeout = 5 * time.Second

type shardedLock struct {
	shards  [numAllocationShards]chan struct{}
	timeout time.Duration
}

func newShardedLock(timeout time.Duration) *shardedLock {
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	l := &shardedLock{timeout: timeout}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// acquire blocks until the shard for key is free, the timeout elapses or ctx
// ends. The returned func releases the shard.
func (l *shardedLock) acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	shard := l.shards[hashKey(key)%numAllocationShards]
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case shard <- struct{}{}:
	case <-ctx.Done():
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "transaction aborted: context cancelled")
	case <-timer.C:
		return nil, dErrors.New(dErrors.CodeTimeout, "timed out waiting for allocation lock")
	}
	return func() { <-shard }, nil
}

// hashKey is FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

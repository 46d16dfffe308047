package service

import (
	"context"
	"sync"
	"time"

	dErrors "dataplane/pkg/domain-errors"
	txcontext "dataplane/pkg/platform/tx"
)

// numShards spreads dataset keys over independent locks so unrelated
// datasets never contend.
const numShards = 128

const defaultTxTimeout = 5 * time.Second

// shardedTx is the in-memory StoreTx. Calls with the same key hold the same
// mutex; stores record undo steps in a journal that is replayed when fn fails.
type shardedTx struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func newShardedTx() *shardedTx {
	return &shardedTx{timeout: defaultTxTimeout}
}

func (t *shardedTx) RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := &t.shards[hashKey(key)%numShards]
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	txCtx, journal := txcontext.WithJournal(ctx)
	if err := fn(txCtx); err != nil {
		journal.Rollback()
		return err
	}
	return nil
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

// Package redlock coordinates reader-writer admission between processes
// through redis. Semantics mirror rwlock.ReadWriteLock: any number of
// readers may hold admission at once, a writer is exclusive, and a writer
// that has claimed intent holds back newly arriving readers while the
// already-admitted ones drain out.
//
// Every holder owns a key with a short TTL that is refreshed in the
// background, so admissions die with their process instead of wedging the
// lock forever. Unlike the in-process primitive, acquisition here is
// context-aware: waiting crosses process boundaries and must be
// cancellable.
package redlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofrs/uuid"
)

const (
	ttlSeconds      = 1
	refreshInterval = 300 * time.Millisecond
	retryInterval   = 10 * time.Millisecond
)

// Lock is a named distributed reader-writer lock. All processes using the
// same name on the same redis contend on one lock.
type Lock struct {
	rdb  redis.UniversalClient
	name string
}

func New(rdb redis.UniversalClient, name string) *Lock {
	return &Lock{rdb: rdb, name: name}
}

func (l *Lock) writerKey() string {
	return l.name + ":writer"
}

func (l *Lock) readerKey(holder string) string {
	return l.name + ":readers:" + holder
}

func (l *Lock) readerPattern() string {
	return l.name + ":readers:*"
}

// acquireReadScript admits a reader only while no writer has claimed the
// lock. KEYS[1] is the writer key, KEYS[2] the reader holder key, ARGV[1]
// the TTL in seconds.
var acquireReadScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 1
	end
	redis.call('SET', KEYS[2], '1', 'EX', ARGV[1])
	return 0
`)

// countReadersScript counts live reader holder keys matching ARGV[1].
// Keys whose TTL already ran out do not count as admitted.
var countReadersScript = redis.NewScript(`
	local count = 0
	local cursor = "0"
	repeat
		local result = redis.call('SCAN', cursor, 'MATCH', ARGV[1], 'COUNT', 100)
		cursor = result[1]
		local keys = result[2]
		for i = 1, #keys do
			if redis.call('TTL', keys[i]) > 0 then
				count = count + 1
			end
		end
	until cursor == "0"
	return count
`)

// releaseWriterScript deletes the writer key only if it still belongs to
// this holder. KEYS[1] is the writer key, ARGV[1] the holder id.
var releaseWriterScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// AcquireRead blocks until a read admission is granted or ctx is done.
// The returned release function must be called to give the admission
// back; it is also invoked automatically when ctx is cancelled.
func (l *Lock) AcquireRead(ctx context.Context) (release func() error, err error) {
	holder, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate holder id: %w", err)
	}
	key := l.readerKey(holder.String())

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := acquireReadScript.Run(ctx, l.rdb,
			[]string{l.writerKey(), key}, ttlSeconds).Int()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire read admission: %w", err)
		}
		if result == 0 {
			break
		}

		// A writer holds or has claimed the lock; wait it out.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return l.holdKey(ctx, key, func(rctx context.Context) {
		_ = l.rdb.Del(rctx, key).Err()
	}), nil
}

// AcquireWrite blocks until the exclusive write admission is granted or
// ctx is done. Claiming the writer key both excludes other writers and
// stops new readers from being admitted; AcquireWrite then waits for the
// readers admitted before the claim to drain.
func (l *Lock) AcquireWrite(ctx context.Context) (release func() error, err error) {
	holder, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate holder id: %w", err)
	}
	id := holder.String()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	// Phase one: claim the writer key. From this point new readers are
	// held back.
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		claimed, err := l.rdb.SetNX(ctx, l.writerKey(), id, ttlSeconds*time.Second).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("claim writer key: %w", err)
		}
		if claimed {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	releaseClaim := func(rctx context.Context) {
		_ = releaseWriterScript.Run(rctx, l.rdb, []string{l.writerKey()}, id).Err()
	}
	release = l.holdKey(ctx, l.writerKey(), releaseClaim)

	// Phase two: wait for the admitted readers to drain out.
	for {
		count, err := countReadersScript.Run(ctx, l.rdb,
			[]string{}, l.readerPattern()).Int()
		if err != nil && ctx.Err() == nil {
			_ = release()
			return nil, fmt.Errorf("count readers: %w", err)
		}
		if ctx.Err() != nil {
			_ = release()
			return nil, ctx.Err()
		}
		if count == 0 {
			return release, nil
		}

		select {
		case <-ctx.Done():
			_ = release()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// holdKey keeps key alive by refreshing its TTL until released, and
// releases it automatically when ctx is cancelled.
func (l *Lock) holdKey(ctx context.Context, key string, drop func(context.Context)) func() error {
	var once sync.Once
	released := make(chan struct{})

	doRelease := func() {
		once.Do(func() {
			close(released)
			drop(context.Background())
		})
	}

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-released:
				return
			case <-ticker.C:
				_ = l.rdb.Expire(context.Background(), key, ttlSeconds*time.Second).Err()
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			doRelease()
		case <-released:
		}
	}()

	return func() error {
		doRelease()
		return nil
	}
}

package collab

import (
	"context"
	"sync"
	"time"

	"CollabProject/logger"
)

// OpLog keeps the bounded per-file ring of accepted edit operations
// and mirrors every append to the external TTL cache. The ring is
// authoritative for the lifetime of this process; the cache only lets
// a freshly-spawned instance serve recent history to late joiners.
type OpLog struct {
	mu     sync.Mutex
	files  map[string][]*EditOperation
	byRoom map[string]map[string]struct{} // roomID -> fileIDs touched in it

	cap          int
	cache        Cache // may be nil
	cacheTTL     time.Duration
	cacheTimeout time.Duration
}

func NewOpLog(ringCap int, cache Cache, cacheTTL time.Duration) *OpLog {
	if ringCap <= 0 {
		ringCap = 100
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &OpLog{
		files:        make(map[string][]*EditOperation),
		byRoom:       make(map[string]map[string]struct{}),
		cap:          ringCap,
		cache:        cache,
		cacheTTL:     cacheTTL,
		cacheTimeout: 3 * time.Second,
	}
}

// Append records a stamped operation. The cache write-through runs on
// its own goroutine with a bounded timeout so a slow or dead cache
// never stalls broadcast delivery.
func (l *OpLog) Append(roomID string, op *EditOperation) {
	l.mu.Lock()
	ring := append(l.files[op.FileID], op)
	if len(ring) > l.cap {
		ring = ring[len(ring)-l.cap:]
	}
	l.files[op.FileID] = ring

	fs := l.byRoom[roomID]
	if fs == nil {
		fs = make(map[string]struct{})
		l.byRoom[roomID] = fs
	}
	fs[op.FileID] = struct{}{}
	l.mu.Unlock()

	if l.cache == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.cacheTimeout)
		defer cancel()
		if err := l.cache.AppendOp(ctx, op.FileID, op, l.cacheTTL); err != nil {
			logger.Warnf("[oplog] cache write-through failed file=%s err=%v", op.FileID, err)
		}
	}()
}

// Recent returns up to limit operations for a file, oldest first. The
// in-memory ring wins; the cache is consulted only when this process
// has nothing, and its absence or failure yields an empty result.
func (l *OpLog) Recent(ctx context.Context, fileID string, limit int) []*EditOperation {
	if limit <= 0 || limit > l.cap {
		limit = l.cap
	}
	l.mu.Lock()
	ring := l.files[fileID]
	if len(ring) > 0 {
		n := len(ring)
		if n > limit {
			n = limit
		}
		out := make([]*EditOperation, n)
		copy(out, ring[len(ring)-n:])
		l.mu.Unlock()
		return out
	}
	l.mu.Unlock()

	if l.cache == nil {
		return nil
	}
	ops, err := l.cache.RecentOps(ctx, fileID, limit)
	if err != nil {
		logger.Warnf("[oplog] cache read failed file=%s err=%v", fileID, err)
		return nil
	}
	return ops
}

// RingLen reports the current ring size for a file.
func (l *OpLog) RingLen(fileID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.files[fileID])
}

// DropRoom discards the rings of every file edited through the given
// room. Called on room deletion.
func (l *OpLog) DropRoom(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for fileID := range l.byRoom[roomID] {
		delete(l.files, fileID)
	}
	delete(l.byRoom, roomID)
}

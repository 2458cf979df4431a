package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"CollabProject/service/collab"
)

// CollabCache implements collab.Cache on redis. Everything here is
// best-effort: the in-memory rings stay authoritative and the
// coordinator logs and swallows every error we return.
//
// Layout: one list per file/room, newest first (LPUSH), rolled with
// LTRIM, expiring with the key TTL.
type CollabCache struct {
	rdb *redis.Client
}

func NewCollabCache(rdb *redis.Client) *CollabCache {
	return &CollabCache{rdb: rdb}
}

func opsKey(fileID string) string  { return "collab:ops:" + fileID }
func chatKey(roomID string) string { return "collab:chat:" + roomID }

func (c *CollabCache) AppendOp(ctx context.Context, fileID string, op *collab.EditOperation, ttl time.Duration) error {
	if c.rdb == nil {
		return errors.New("redis not initialized")
	}
	b, err := json.Marshal(op)
	if err != nil {
		return errors.Wrap(err, "marshal op")
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, opsKey(fileID), b)
	pipe.LTrim(ctx, opsKey(fileID), 0, 99)
	pipe.Expire(ctx, opsKey(fileID), ttl)
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "append op")
}

func (c *CollabCache) RecentOps(ctx context.Context, fileID string, limit int) ([]*collab.EditOperation, error) {
	if c.rdb == nil {
		return nil, errors.New("redis not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	vals, err := c.rdb.LRange(ctx, opsKey(fileID), 0, int64(limit-1)).Result()
	if errors.Is(err, redis.Nil) || len(vals) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "range ops")
	}
	// list is newest-first; reverse into chronological order
	out := make([]*collab.EditOperation, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var op collab.EditOperation
		if err := json.Unmarshal([]byte(vals[i]), &op); err != nil {
			continue
		}
		out = append(out, &op)
	}
	return out, nil
}

func (c *CollabCache) AppendChat(ctx context.Context, roomID string, msg *collab.Message, ttl time.Duration) error {
	if c.rdb == nil {
		return errors.New("redis not initialized")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, chatKey(roomID), b)
	pipe.LTrim(ctx, chatKey(roomID), 0, 999)
	pipe.Expire(ctx, chatKey(roomID), ttl)
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "append chat")
}

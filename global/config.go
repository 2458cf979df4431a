package global

import (
	"os"
	"strconv"
	"time"
)

// Config is the process-level configuration, loaded once from the
// environment in main(). Everything has a workable default so a bare
// `go run .` starts a single-node coordinator against a local redis.
type Config struct {
	HTTPAddr string // listen address for HTTP + WebSocket
	NodeID   string // coordinator node id, shows up in logs and acks

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	JWTTTL    time.Duration // issued token lifetime (dev login endpoint)

	GraceWindow    time.Duration // presence retention after disconnect
	JanitorEvery   time.Duration // sweep interval
	RoomIdleTTL    time.Duration // empty-room backstop threshold
	AuthTimeout    time.Duration // unauthenticated connection kick
	OpCacheTTL     time.Duration // redis mirror TTL for edit operations
	ChatHistoryCap int
	ChatReplay     int
	OpRingCap      int

	CursorRatePerSec int // cursor/selection events per second per connection
	CursorBurst      int
}

func Load() Config {
	return Config{
		HTTPAddr: envStr("HTTP_ADDR", ":8080"),
		NodeID:   envStr("NODE_ID", "collab-1"),

		RedisAddr:     envStr("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		JWTSecret: envStr("JWT_SECRET", "dev-secret-change-me"),
		JWTTTL:    envDur("JWT_TTL", 2*time.Hour),

		GraceWindow:    envDur("GRACE_WINDOW", 30*time.Second),
		JanitorEvery:   envDur("JANITOR_EVERY", time.Hour),
		RoomIdleTTL:    envDur("ROOM_IDLE_TTL", 24*time.Hour),
		AuthTimeout:    envDur("AUTH_TIMEOUT", 10*time.Second),
		OpCacheTTL:     envDur("OP_CACHE_TTL", time.Hour),
		ChatHistoryCap: envInt("CHAT_HISTORY_CAP", 1000),
		ChatReplay:     envInt("CHAT_REPLAY", 50),
		OpRingCap:      envInt("OP_RING_CAP", 100),

		CursorRatePerSec: envInt("CURSOR_RATE", 30),
		CursorBurst:      envInt("CURSOR_BURST", 60),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"CollabProject/global"
	"CollabProject/logger"
	mid "CollabProject/middleware"
	"CollabProject/service/api"
	"CollabProject/service/collab"
	"CollabProject/service/storage"
	"CollabProject/service/ws"
	"CollabProject/tools/security"
)

// jwtVerifier adapts the JWT toolkit to the coordinator's verifier
// contract.
type jwtVerifier struct {
	opts security.Options
}

func (v jwtVerifier) Verify(token string) (*collab.UserIdentity, error) {
	id, err := security.Verify(v.opts, token)
	if err != nil {
		return nil, err
	}
	return &collab.UserIdentity{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Email:       id.Email,
		Role:        id.Role,
	}, nil
}

func main() {
	cfg := global.Load()

	jwtOpts := security.DefaultOptions([]byte(cfg.JWTSecret))
	jwtOpts.TTL = cfg.JWTTTL
	mid.ConfigAuth(jwtOpts)

	// redis is best-effort: the coordinator runs without the cache,
	// late joiners just lose cross-restart replay
	var cache collab.Cache
	if err := storage.InitRedis(storage.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		logger.Warnf("[main] redis unavailable, running without op cache: %v", err)
	} else {
		cache = storage.NewCollabCache(storage.GetRedis())
	}

	transport := ws.NewServer()
	coord := collab.New(collab.Config{
		NodeID:         cfg.NodeID,
		GraceWindow:    cfg.GraceWindow,
		JanitorEvery:   cfg.JanitorEvery,
		RoomIdleTTL:    cfg.RoomIdleTTL,
		AuthTimeout:    cfg.AuthTimeout,
		ChatHistoryCap: cfg.ChatHistoryCap,
		ChatReplay:     cfg.ChatReplay,
		OpRingCap:      cfg.OpRingCap,
		OpCacheTTL:     cfg.OpCacheTTL,
		CursorRate:     rate.Limit(cfg.CursorRatePerSec),
		CursorBurst:    cfg.CursorBurst,
	}, jwtVerifier{opts: jwtOpts}, transport, cache)
	transport.Attach(coord)
	coord.Start()

	h := api.NewHandler(coord, jwtOpts)

	r := gin.New()
	r.Use(gin.Recovery(), mid.Origin())

	r.GET("/ws", transport.HandleWS)
	mid.POST(r, "/login", h.HandleLogin, mid.RouteOpt{IsAuth: false})
	mid.GET(r, "/online", h.HandleOnline, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/rooms", h.HandleRooms, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/files/:fileId/ops", h.HandleFileOps, mid.RouteOpt{IsAuth: true})
	r.GET("/healthz", h.HandleHealth)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("[main] shutting down")
		coord.Stop()
		_ = storage.CloseRedis()
		os.Exit(0)
	}()

	logger.Infof("[main] node=%s listening on %s", cfg.NodeID, cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		logger.Errorf("[main] http server failed: %v", err)
		os.Exit(1)
	}
}

package main

import (
	"log"
	"net"

	"google.golang.org/grpc"

	"chaptertrack/internal/auth"
	"chaptertrack/internal/cloud"
	"chaptertrack/internal/grpcserver"
	"chaptertrack/internal/logging"
	synchub "chaptertrack/internal/sync"
	"chaptertrack/pkg/database"
	"chaptertrack/pkg/rpc/titlesync"
	"chaptertrack/pkg/utils"
)

// The hub lives in api-server; here events are only logged.
type logPublisher struct {
	logger *log.Logger
}

func (p logPublisher) Publish(e synchub.TitlesEvent) {
	p.logger.Printf("[grpc] %s user=%s count=%d", e.Type, e.UserID, e.Count)
}

func main() {
	cfg, err := utils.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, closer, err := logging.Setup(logging.Options{File: cfg.LogFile})
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer closer.Close()

	db := database.MustOpen(database.Config{Path: cfg.ServerDBPath})
	defer db.Close()

	if err := database.Migrate(db, database.Server); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	listener, err := net.Listen("tcp", cfg.Grpc.Addr)
	if err != nil {
		log.Fatalf("grpc listen failed: %v", err)
	}

	tokens := auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTDuration,
	}
	svc := cloud.NewService(cloud.NewRepo(db), logPublisher{logger: logger})

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryAuth(tokens, auth.NewRepo(db))))
	titlesync.RegisterTitleSyncServer(grpcServer, grpcserver.NewServer(svc))

	logger.Printf("gRPC server listening on %s", cfg.Grpc.Addr)
	if err := grpcServer.Serve(listener); err != nil {
		log.Fatalf("grpc server stopped: %v", err)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ichao15/slwl/config"
	"github.com/ichao15/slwl/engine"
	"github.com/ichao15/slwl/messaging"
	"github.com/ichao15/slwl/store"
	"github.com/ichao15/slwl/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "slwl.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("slwl-dispatch", Version)
		return
	}

	if err := config.LoadDotEnv(); err != nil {
		log.Printf("slwl: load .env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	log.Printf("slwl: database open (%s)", cfg.Database.Driver)

	// Redis holds the corridor queues and locks; dispatch cannot run without it
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("slwl: redis not available (%v), corridor operations will fail until it is", err)
	} else {
		log.Printf("slwl: redis connected (%s)", cfg.Redis.Address)
	}
	cancel()
	defer redisClient.Close()

	// Messaging client
	msgClient := messaging.NewClient(&cfg.Messaging)
	if err := msgClient.Connect(); err != nil {
		log.Printf("slwl: messaging connect failed (%v)", err)
	} else {
		log.Printf("slwl: messaging connected (%s)", cfg.Messaging.Backend)
	}

	// Engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: *configPath,
		DB:         db,
		Redis:      redisClient,
		MsgClient:  msgClient,
	})
	if err := eng.Start(); err != nil {
		log.Fatalf("start engine: %v", err)
	}

	// Inbound events: waybills in transit, vehicle plans, carrier feedback
	consumer := messaging.NewConsumer(msgClient, cfg.Messaging.InboundTopic, eng.InboundHandler())
	if err := consumer.Start(); err != nil {
		log.Printf("slwl: inbound subscribe failed: %v", err)
	} else {
		log.Printf("slwl: listening on %s", cfg.Messaging.InboundTopic)
	}

	// Outbox drainer
	drainer := messaging.NewOutboxDrainer(db, msgClient, cfg.Messaging.OutboxDrainInterval)
	drainer.Start()

	// Web server
	handler, stopWeb := www.NewRouter(eng)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("slwl: web server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("web server: %v", err)
		}
	}()

	log.Printf("slwl: ready")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("slwl: shutting down...")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	// flush what the last ticks produced while the broker is still open
	eng.Stop()
	drainer.Stop()
	drainer.Drain(context.Background())
	msgClient.Close()

	log.Printf("slwl: stopped")
}

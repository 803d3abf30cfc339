package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"turntable/internal/api"
	"turntable/internal/broker"
	"turntable/internal/config"
	"turntable/internal/daemon"
	"turntable/internal/detect"
	"turntable/internal/logging"
	"turntable/internal/pipeline"
	"turntable/internal/queue"
	"turntable/internal/storage"
	"turntable/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		log.Fatalf("open queue store: %v", err)
	}

	b, err := broker.New(cfg)
	if err != nil {
		log.Fatalf("connect broker: %v", err)
	}
	defer b.Close()

	artifacts, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatalf("open artifact storage: %v", err)
	}

	detector := detect.NewYOLO(cfg)
	defer detector.Close()

	stages := pipeline.Stages(cfg, logger, artifacts, detector)
	manager := workflow.NewManager(cfg, store, b, artifacts, stages, logger)
	server := api.NewServer(cfg, store, b, artifacts, manager, logger)

	d, err := daemon.New(cfg, store, manager, server, logger)
	if err != nil {
		log.Fatalf("create daemon: %v", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		log.Fatalf("start daemon: %v", err)
	}

	<-ctx.Done()
	d.Stop()
}

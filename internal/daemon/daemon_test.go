package daemon_test

import (
	"context"
	"testing"

	"turntable/internal/api"
	"turntable/internal/broker"
	"turntable/internal/daemon"
	"turntable/internal/logging"
	"turntable/internal/queue"
	"turntable/internal/stage"
	"turntable/internal/storage"
	"turntable/internal/testsupport"
	"turntable/internal/workflow"
)

type idleStage struct{}

func (idleStage) Step() queue.Step { return queue.StepBuilding }

func (idleStage) Execute(ctx context.Context, run *stage.Run) error { return nil }

func (idleStage) HealthCheck(ctx context.Context) stage.Health { return stage.Healthy("idle") }

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:0"
	store := testsupport.MustOpenStore(t, cfg)

	b := broker.NewMemory()
	defer b.Close()
	artifacts, err := storage.NewLocal(cfg.Storage.LocalDir)
	if err != nil {
		t.Fatalf("storage.NewLocal: %v", err)
	}

	stages := []stage.Handler{idleStage{}}
	manager := workflow.NewManager(cfg, store, b, artifacts, stages, logging.NewNop())
	server := api.NewServer(cfg, store, b, artifacts, manager, logging.NewNop())

	d, err := daemon.New(cfg, store, manager, server, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()
	if !d.Running() {
		t.Fatal("daemon should report running")
	}

	secondManager := workflow.NewManager(cfg, store, b, artifacts, stages, logging.NewNop())
	secondServer := api.NewServer(cfg, store, b, artifacts, secondManager, logging.NewNop())
	second, err := daemon.New(cfg, store, secondManager, secondServer, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second daemon instance must fail to acquire the lock")
	}

	d.Stop()
	if d.Running() {
		t.Fatal("daemon should report stopped")
	}
}

package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"turntable/internal/broker"
	"turntable/internal/config"
	"turntable/internal/logging"
	"turntable/internal/queue"
	"turntable/internal/stage"
	"turntable/internal/storage"
)

// Manager owns the worker pool that drains the broker and drives claimed
// jobs through the stage sequence. Jobs run independently; the only shared
// state is the queue store and artifact storage.
type Manager struct {
	cfg       *config.Config
	store     *queue.Store
	broker    broker.Broker
	artifacts storage.Store
	stages    []stage.Handler
	logger    *slog.Logger

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	stageTimeout       time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(cfg *config.Config, store *queue.Store, b broker.Broker, artifacts storage.Store, stages []stage.Handler, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:                cfg,
		store:              store,
		broker:             b,
		artifacts:          artifacts,
		stages:             stages,
		logger:             logger.With(logging.String(logging.FieldComponent, "workflow")),
		pollInterval:       time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		stageTimeout:       time.Duration(cfg.Workflow.StageTimeout) * time.Second,
	}
}

// HealthCheck collects readiness from every stage.
func (m *Manager) HealthCheck(ctx context.Context) []stage.Health {
	healths := make([]stage.Health, 0, len(m.stages))
	for _, handler := range m.stages {
		healths = append(healths, handler.HealthCheck(ctx))
	}
	return healths
}

// Start recovers orphaned work and launches the worker pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.stages) == 0 {
		m.mu.Unlock()
		return errors.New("workflow stages not configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	// Jobs left PROCESSING by a previous run were never finished; their
	// progress rows return to PENDING and the reconciler re-enqueues them.
	reset, err := m.store.ResetOrphanedProcessing(runCtx)
	if err != nil {
		cancel()
		return err
	}
	if reset > 0 {
		m.logger.Info("recovered orphaned jobs", logging.Int("count", reset))
	}

	workers := m.cfg.Workflow.Workers
	if workers < 1 {
		workers = 1
	}
	m.wg.Add(workers + 1)
	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}
	go m.runReconciler(runCtx)
	return nil
}

// Stop terminates background processing and waits for workers to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) runWorker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))

	for {
		jobID, err := m.broker.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, broker.ErrClosed) {
				return
			}
			logger.Error("failed to consume from broker", logging.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.errorRetryInterval):
			}
			continue
		}

		job, err := m.store.Claim(ctx, jobID)
		if err != nil {
			logger.Error("failed to claim job", logging.String(logging.FieldJobID, jobID), logging.Error(err))
			continue
		}
		if job == nil {
			// Duplicate delivery, or the job was deleted or already ran.
			logger.Debug("skipping unclaimable job", logging.String(logging.FieldJobID, jobID))
			continue
		}

		m.processJob(ctx, logger, job)
	}
}

// runReconciler periodically re-enqueues PENDING jobs that have sat past the
// poll interval, covering broker messages lost to a crash. The claim step
// makes the resulting duplicate deliveries harmless.
func (m *Manager) runReconciler(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		jobs, err := m.store.List(ctx, queue.StatusPending)
		if err != nil {
			m.logger.Error("reconciler could not list pending jobs", logging.Error(err))
			continue
		}
		cutoff := time.Now().Add(-m.pollInterval)
		for _, job := range jobs {
			if job.UpdatedAt.After(cutoff) {
				continue
			}
			if err := m.broker.Publish(ctx, job.ID); err != nil {
				m.logger.Warn("reconciler could not re-enqueue job",
					logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			}
		}
	}
}

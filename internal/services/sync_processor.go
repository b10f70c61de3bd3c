package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"offertory/internal/commit"
	"offertory/internal/core"
	"offertory/internal/log"
	"offertory/internal/syncmark"
)

// PendingSyncer pushes every pending record to the external spreadsheet.
type PendingSyncer interface {
	SyncPending(ctx context.Context) (syncmark.Result, error)
}

type SyncProcessorConfig struct {
	// PollInterval is how often pending records are pushed (default: 5m)
	PollInterval time.Duration

	// MaxRetries bounds transport retries within one run (default: 3)
	MaxRetries int

	// RetryInterval is the first wait between retries; it doubles per attempt (default: 2s)
	RetryInterval time.Duration
}

func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:  5 * time.Minute,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
}

// SyncProcessor runs SyncPending on a ticker and whenever Trigger is called,
// e.g. after a commit event arrives.
type SyncProcessor struct {
	syncer  PendingSyncer
	config  SyncProcessorConfig
	trigger chan struct{}
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncProcessor(syncer PendingSyncer, config SyncProcessorConfig) *SyncProcessor {
	return &SyncProcessor{
		syncer:  syncer,
		config:  config,
		trigger: make(chan struct{}, 1),
		logger:  log.Component(log.ComponentWorker),
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"max_retries", p.config.MaxRetries)
	return nil
}

// Stop gracefully stops the processor and waits for the current run.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Sync processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}
}

func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Trigger asks for a run as soon as possible. Calls coalesce while a run is
// already queued.
func (p *SyncProcessor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Committed queues a run for a fresh commit, so an in-process processor can
// serve as the commit engine's notifier.
func (p *SyncProcessor) Committed(context.Context, commit.Event) error {
	p.Trigger()
	return nil
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// catch up on anything left pending before the restart
	p.RunOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-p.trigger:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce pushes pending records, retrying transport failures with
// exponential backoff. Configuration problems are not retried.
func (p *SyncProcessor) RunOnce(ctx context.Context) (syncmark.Result, error) {
	var res syncmark.Result
	op := func() error {
		var err error
		res, err = p.syncer.SyncPending(ctx)
		if err != nil && !errors.Is(err, core.ErrSyncTransport) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, p.retryPolicy(ctx), func(err error, wait time.Duration) {
		p.logger.WarnContext(ctx, "Sync attempt failed, retrying",
			log.FieldError, err, "wait", wait)
	})

	switch {
	case errors.Is(err, syncmark.ErrNothingPending):
		p.logger.DebugContext(ctx, "Nothing pending to sync")
		return res, nil
	case errors.Is(err, syncmark.ErrSyncInFlight):
		p.logger.DebugContext(ctx, "Sync already running in another process")
		return res, nil
	case errors.Is(err, syncmark.ErrNoEndpoint):
		p.logger.WarnContext(ctx, "Sync endpoint not configured, skipping run")
		return res, err
	case err != nil:
		p.logger.ErrorContext(ctx, "Sync run failed", log.FieldError, err)
		return res, err
	}

	if !res.Confirmed {
		p.logger.WarnContext(ctx, "Sync delivered without confirmation",
			log.FieldCount, res.Sent,
			log.FieldStatusCode, res.StatusCode)
	} else {
		p.logger.InfoContext(ctx, "Sync run completed",
			log.FieldCount, res.Sent,
			log.FieldPending, res.Remaining)
	}
	return res, nil
}

func (p *SyncProcessor) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	retries := p.config.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

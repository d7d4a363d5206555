package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"example.com/integrations/internal/domain"
)

// Scheduler fans sync triggers into the orchestrator: a periodic sweep over
// every active credential, immediate webhook-driven triggers, and on-demand
// requests. Triggers are queued and drained by a bounded worker pool so the
// caller always returns promptly.
type Scheduler struct {
	orchestrator *Orchestrator
	creds        domain.CredentialRepository
	cron         *cron.Cron
	queue        chan trigger
	workers      int
	interval     time.Duration
	logger       *log.Logger
	wg           sync.WaitGroup
	stopOnce     sync.Once

	holdMu   sync.Mutex
	holdoffs map[string]time.Time
}

type trigger struct {
	credentialID string
	kind         domain.Trigger
}

// SchedulerConfig tunes the scheduler.
type SchedulerConfig struct {
	Interval  time.Duration
	Workers   int
	QueueSize int
}

// NewScheduler constructs a Scheduler.
func NewScheduler(orchestrator *Orchestrator, creds domain.CredentialRepository, cfg SchedulerConfig, logger *log.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{
		orchestrator: orchestrator,
		creds:        creds,
		cron:         cron.New(),
		queue:        make(chan trigger, cfg.QueueSize),
		workers:      cfg.Workers,
		interval:     cfg.Interval,
		logger:       logger,
		holdoffs:     make(map[string]time.Time),
	}
}

// Start launches the worker pool and the periodic sweep. It returns
// immediately; Stop drains the workers.
func (s *Scheduler) Start(ctx context.Context) error {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("registering periodic sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Printf("periodic sweep every %s, %d workers", s.interval, s.workers)
	return nil
}

// Stop halts the periodic sweep and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		close(s.queue)
	})
	s.wg.Wait()
}

// TriggerSync enqueues an immediate sync for the credential. It never blocks;
// when the queue is full the trigger is dropped, which is safe because the
// next periodic sweep covers the credential anyway. Triggers inside a
// provider-supplied rate-limit window are dropped the same way.
func (s *Scheduler) TriggerSync(credentialID string, kind domain.Trigger) bool {
	if until, held := s.heldOff(credentialID); held {
		s.logger.Printf("credential %s rate limited until %s, dropping %s trigger", credentialID, until.Format(time.RFC3339), kind)
		recordHoldoff(kind)
		return false
	}
	select {
	case s.queue <- trigger{credentialID: credentialID, kind: kind}:
		return true
	default:
		s.logger.Printf("trigger queue full, dropping %s trigger for credential %s", kind, credentialID)
		recordTriggerDropped(kind)
		return false
	}
}

// TriggerWebhook resolves the credential addressed by a verified webhook
// event and enqueues a sync for it. An event for an unconnected or revoked
// account is acknowledged and ignored.
func (s *Scheduler) TriggerWebhook(ctx context.Context, event domain.WebhookEvent) error {
	cred, err := s.creds.FindByExternalUser(ctx, event.Provider, event.ExternalUserID)
	if err != nil {
		return err
	}
	if cred == nil || !cred.IsActive {
		s.logger.Printf("webhook for unknown %s user %s ignored", event.Provider, event.ExternalUserID)
		return nil
	}
	s.TriggerSync(cred.ID, domain.TriggerWebhook)
	return nil
}

// sweep reads the active credential set fresh on each tick, so newly
// connected or revoked credentials are picked up within one tick.
func (s *Scheduler) sweep(ctx context.Context) {
	creds, err := s.creds.ListActive(ctx)
	if err != nil {
		s.logger.Printf("sweep: listing active credentials: %v", err)
		return
	}
	for _, cred := range creds {
		s.TriggerSync(cred.ID, domain.TriggerPeriodic)
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for t := range s.queue {
		if ctx.Err() != nil {
			return
		}
		_, err := s.orchestrator.RunSync(ctx, t.credentialID, t.kind)
		if err == nil {
			continue
		}
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			s.holdOff(t.credentialID, rl.RetryAfter)
			s.logger.Printf("credential %s rate limited, holding off syncs for %s", t.credentialID, rl.RetryAfter)
		}
		if !domain.Retryable(err) {
			s.logger.Printf("sync for credential %s (%s) failed terminally: %v", t.credentialID, t.kind, err)
		}
	}
}

// holdOff records a provider rate-limit hint so sweeps and triggers skip the
// credential until the window elapses.
func (s *Scheduler) holdOff(credentialID string, retryAfter time.Duration) {
	s.holdMu.Lock()
	s.holdoffs[credentialID] = time.Now().Add(retryAfter)
	s.holdMu.Unlock()
}

func (s *Scheduler) heldOff(credentialID string) (time.Time, bool) {
	s.holdMu.Lock()
	defer s.holdMu.Unlock()
	until, ok := s.holdoffs[credentialID]
	if !ok {
		return time.Time{}, false
	}
	if time.Now().Before(until) {
		return until, true
	}
	delete(s.holdoffs, credentialID)
	return time.Time{}, false
}

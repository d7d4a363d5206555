// Package sync implements the pull-sync control loop: the orchestrator that
// executes one sync pass per credential, the merge step, and the scheduler
// that triggers passes periodically, on webhook events, and on demand.
package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/oauth"
	"example.com/integrations/internal/provider"
)

// Options bound the work one sync pass may do.
type Options struct {
	PageSize int
	// MaxPages caps pagination per run so a provider with broken "since"
	// semantics cannot cause unbounded work on a single trigger.
	MaxPages int
	// RunBudget bounds the wall clock of one pass; exceeding it finalizes
	// the run as partially failed with work-so-far preserved.
	RunBudget time.Duration
	// ClaimTTL is how old a Running row must be before it is considered
	// abandoned by a crashed worker and reclaimed.
	ClaimTTL time.Duration
}

func (o *Options) withDefaults() {
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 20
	}
	if o.RunBudget <= 0 {
		o.RunBudget = 5 * time.Minute
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 15 * time.Minute
	}
}

// Orchestrator executes sync passes. Per-credential execution is serialized
// by an in-process lock plus the storage-level single-Running constraint, so
// the credential row never observes a lost update from concurrent writers.
type Orchestrator struct {
	creds    domain.CredentialRepository
	runs     domain.SyncRunRepository
	tokens   *oauth.Manager
	registry *provider.Registry
	importer *Importer
	locks    *credentialLocks
	opts     Options
	logger   *log.Logger
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(creds domain.CredentialRepository, runs domain.SyncRunRepository, tokens *oauth.Manager, registry *provider.Registry, importer *Importer, opts Options, logger *log.Logger) *Orchestrator {
	opts.withDefaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[sync] ", log.LstdFlags)
	}
	return &Orchestrator{
		creds:    creds,
		runs:     runs,
		tokens:   tokens,
		registry: registry,
		importer: importer,
		locks:    newCredentialLocks(),
		opts:     opts,
		logger:   logger,
	}
}

// RunSync performs one idempotent sync pass for the credential. When another
// pass is already running for the same credential it returns (nil, nil): a
// deliberate skip, not a failure, so overlapping triggers collapse into one
// effective run.
func (o *Orchestrator) RunSync(ctx context.Context, credentialID string, trigger domain.Trigger) (*domain.SyncRun, error) {
	if !o.locks.TryLock(credentialID) {
		recordSkip(trigger)
		return nil, nil
	}
	defer o.locks.Unlock(credentialID)

	cred, err := o.creds.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, domain.ErrCredentialNotFound
	}
	if !cred.IsActive {
		return nil, domain.ErrCredentialRevoked
	}

	run := domain.SyncRun{
		ID:           uuid.NewString(),
		CredentialID: credentialID,
		Status:       domain.SyncRunRunning,
		Trigger:      trigger,
		StartedAt:    time.Now().UTC(),
	}
	started, err := o.runs.Begin(ctx, run, o.opts.ClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("claiming sync run: %w", err)
	}
	if !started {
		recordSkip(trigger)
		return nil, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, o.opts.RunBudget)
	defer cancel()

	cred, err = o.tokens.RefreshIfNeeded(runCtx, cred)
	if err != nil {
		run.ErrorMessage = err.Error()
		run.CursorAfter = ""
		o.finalize(ctx, &run, domain.SyncRunFailed)
		return &run, err
	}

	pageErr := o.pullPages(runCtx, cred, &run)

	switch {
	case pageErr == nil:
		o.finalize(ctx, &run, domain.SyncRunSucceeded)
	case run.CursorAfter != cred.SyncCursor || run.RecordsProcessed > 0:
		run.ErrorMessage = pageErr.Error()
		o.finalize(ctx, &run, domain.SyncRunPartiallyFailed)
	default:
		run.ErrorMessage = pageErr.Error()
		o.finalize(ctx, &run, domain.SyncRunFailed)
	}
	return &run, pageErr
}

// pullPages drains the provider from the stored cursor. The cursor advances
// only after the corresponding page is fully merged, so a failure mid-loop
// leaves a safe resume point; the (credential_id, external_id) uniqueness
// makes resumption idempotent even when the resume point is imprecise.
func (o *Orchestrator) pullPages(ctx context.Context, cred *domain.Credential, run *domain.SyncRun) error {
	bundle, err := o.registry.Lookup(cred.Provider)
	if err != nil {
		return err
	}

	cursor := cred.SyncCursor
	run.CursorAfter = cursor

	for pages := 0; pages < o.opts.MaxPages; pages++ {
		page, err := bundle.Adapter.FetchActivitiesSince(ctx, cred.AccessToken, cursor, o.opts.PageSize)
		if err != nil {
			return err
		}

		for idx := range page.Activities {
			_, created, err := o.importer.Merge(ctx, *cred, page.Activities[idx])
			if err != nil {
				return fmt.Errorf("merging record %s: %w", page.Activities[idx].ExternalID, err)
			}
			run.RecordsProcessed++
			if created {
				run.RecordsImported++
			} else {
				run.RecordsSkipped++
			}
		}
		run.RecordsProcessed += page.Malformed
		run.RecordsSkipped += page.Malformed

		// Page fully merged: advance and persist the cursor before the
		// next fetch so a later run resumes from here, not from scratch.
		cursor = page.NextCursor
		run.CursorAfter = cursor
		if err := o.creds.UpdateSyncState(ctx, cred.ID, cursor, time.Now().UTC()); err != nil {
			return fmt.Errorf("persisting cursor: %w", err)
		}

		if !page.HasMore {
			return nil
		}
	}

	o.logger.Printf("credential %s: page limit reached at cursor %q, deferring remainder to next run", cred.ID, cursor)
	return nil
}

// finalize writes the terminal run row. It uses the parent context, not the
// budget-bounded one, so a budget overrun can still be recorded.
func (o *Orchestrator) finalize(ctx context.Context, run *domain.SyncRun, status domain.SyncRunStatus) {
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now

	if err := o.runs.Finalize(ctx, *run); err != nil {
		o.logger.Printf("finalizing run %s: %v", run.ID, err)
	}
	recordRun(run)
	if status != domain.SyncRunSucceeded {
		o.logger.Printf("run %s for credential %s finished %s: %s", run.ID, run.CredentialID, status, run.ErrorMessage)
	}
}

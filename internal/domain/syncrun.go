package domain

import (
	"context"
	"time"
)

// SyncRunStatus represents the lifecycle state of one sync pass.
type SyncRunStatus string

const (
	SyncRunRunning         SyncRunStatus = "running"
	SyncRunSucceeded       SyncRunStatus = "succeeded"
	SyncRunFailed          SyncRunStatus = "failed"
	SyncRunPartiallyFailed SyncRunStatus = "partially_failed"
)

// Trigger identifies what started a sync run.
type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerWebhook  Trigger = "webhook"
	TriggerManual   Trigger = "manual"
)

// SyncRun is one append-only log entry for one execution of the pull-sync loop.
// Rows are created at sync start, finalized once, and never mutated afterwards.
type SyncRun struct {
	ID               string
	CredentialID     string
	Status           SyncRunStatus
	Trigger          Trigger
	StartedAt        time.Time
	CompletedAt      *time.Time
	RecordsProcessed int
	RecordsImported  int
	RecordsSkipped   int
	ErrorMessage     string
	CursorAfter      string
}

// SyncRunRepository captures persistence operations on sync runs.
type SyncRunRepository interface {
	// Begin inserts a run in Running state. It returns false without error
	// when another run is already Running for the same credential; Running
	// rows older than staleAfter are reclaimed (finalized as Failed) first
	// so a crashed worker never permanently starves a credential.
	Begin(ctx context.Context, run SyncRun, staleAfter time.Duration) (bool, error)
	Finalize(ctx context.Context, run SyncRun) error
	ListByCredential(ctx context.Context, credentialID string, limit int) ([]SyncRun, error)
}

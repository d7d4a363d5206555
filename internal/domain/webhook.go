package domain

import "time"

// WebhookEvent is the canonical shape extracted from a verified provider
// webhook. It identifies the credential via (Provider, ExternalUserID) and is
// only ever a sync trigger; payload contents are re-fetched through the pull
// path.
type WebhookEvent struct {
	Provider         string
	ExternalUserID   string
	ExternalObjectID string
	EventType        string
	EventTime        time.Time
}

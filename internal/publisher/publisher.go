// Package publisher announces finished exports to downstream consumers.
package publisher

import (
	"context"
	"time"
)

// Publisher sends a JSON-encodable payload to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// NoOp drops every message.
type NoOp struct{}

// Publish returns an empty ID.
func (NoOp) Publish(context.Context, string, any) (string, error) { return "", nil }

// ExportCompleted is published once an export run has uploaded its files.
type ExportCompleted struct {
	RunID       string    `json:"run_id"`
	Job         string    `json:"job"`
	Collections []string  `json:"collections"`
	Objects     []string  `json:"objects"`
	Documents   int64     `json:"documents"`
	TestMode    bool      `json:"test_mode"`
	FinishedAt  time.Time `json:"finished_at"`
}

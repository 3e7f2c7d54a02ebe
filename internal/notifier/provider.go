// Package notifier drains the events outbox and hands each event to the
// configured delivery providers. Formatting and transport live behind the
// Provider interface; the core never composes user-facing messages.
package notifier

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

type Provider interface {
	Name() string
	Deliver(ctx context.Context, eventType string, payload map[string]any) error
}

// LogProvider is the built-in sink: it only records that the event left the
// core. Real push/email delivery plugs in beside it.
type LogProvider struct {
	log *zap.Logger
}

func NewLogProvider(log *zap.Logger) *LogProvider {
	return &LogProvider{log: log.Named("notifier.log")}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) Deliver(_ context.Context, eventType string, payload map[string]any) error {
	raw, _ := json.Marshal(payload)
	p.log.Info("event delivered", zap.String("event_type", eventType), zap.ByteString("payload", raw))
	return nil
}

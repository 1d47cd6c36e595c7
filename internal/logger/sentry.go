package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryTracker reports logged errors to Sentry.
type SentryTracker struct {
	hub *sentry.Hub
}

func NewSentryTracker(dsn, environment string) (*SentryTracker, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return &SentryTracker{hub: sentry.CurrentHub()}, nil
}

func (t *SentryTracker) CaptureError(_ context.Context, err error, tags map[string]string) {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
	})
	hub.CaptureException(err)
}

func (t *SentryTracker) Flush() bool {
	return t.hub.Flush(2 * time.Second)
}

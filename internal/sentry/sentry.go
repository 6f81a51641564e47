package sentryutil

import (
	"time"

	"github.com/getsentry/sentry-go"

	"threadbot/internal/config"
	"threadbot/internal/logger"
)

func Init() {
	dsn := config.Cfg.SentryDSN
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      config.Cfg.SentryEnvironment,
		Release:          config.Cfg.SentryRelease,
		TracesSampleRate: 0.2,
		EnableTracing:    dsn != "",
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			// Chat ids travel as tags; user identity never leaves the process.
			event.User = sentry.User{}
			return event
		},
	})
	if err != nil {
		logger.Warn("sentry init failed, continuing without it", map[string]interface{}{"error": err})
	}
	if dsn == "" {
		logger.Info("SENTRY_DSN empty, error tracking disabled", nil)
	} else {
		logger.Info("sentry initialized", map[string]interface{}{"environment": config.Cfg.SentryEnvironment})
	}
}

func Flush() { sentry.Flush(2 * time.Second) }

func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func CaptureMessage(msg string, level sentry.Level, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureMessage(msg)
	})
}

// RecoverPanic reports a recovered panic value with tags; returns true when v was non-nil.
func RecoverPanic(v interface{}, tags map[string]string) bool {
	if v == nil {
		return false
	}
	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		for k, val := range tags {
			scope.SetTag(k, val)
		}
		hub.Recover(v)
	})
	return true
}

// LevelWarning returns sentry.LevelWarning so callers don't need to import sentry-go directly.
func LevelWarning() sentry.Level { return sentry.LevelWarning }

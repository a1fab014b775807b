package main

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// initSentry enables crash reporting when ACTORSIM_SENTRY_DSN is set. The
// returned func flushes pending events and is safe to call either way.
func initSentry(worldID string, logger *log.Logger) func() {
	dsn := strings.TrimSpace(os.Getenv("ACTORSIM_SENTRY_DSN"))
	if dsn == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: strings.TrimSpace(os.Getenv("DEPLOY_ENV")),
		ServerName:  worldID,
	})
	if err != nil {
		logger.Printf("sentry disabled: %v", err)
		return func() {}
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("world", worldID)
	})
	logger.Printf("sentry enabled")
	return func() { sentry.Flush(2 * time.Second) }
}

// reportPanic forwards a panic to sentry, then re-panics so the process
// still dies. Use as `defer reportPanic("component")`.
func reportPanic(component string) {
	if err := recover(); err != nil {
		hub := sentry.CurrentHub().Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("component", component)
		})
		hub.Recover(err)
		hub.Flush(5 * time.Second)
		panic(err)
	}
}

func reportError(component string, err error) {
	if err == nil {
		return
	}
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
	})
	hub.CaptureException(err)
}

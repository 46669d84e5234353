package gologger

import (
	"context"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-eventhooks/core"
)

func newObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	zcore, logs := observer.New(level)
	return NewLogger(zap.New(zcore)), logs
}

func TestLoggerWritesKeyValuePairs(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.DebugLevel)

	logger.Info("endpoint disabled", "endpoint_id", "ep_1", "failures", 5)
	logger.Trace("trace maps to debug")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if entries[0].Message != "endpoint disabled" || fields["endpoint_id"] != "ep_1" || fields["failures"] != int64(5) {
		t.Fatalf("unexpected entry %+v %v", entries[0].Entry, fields)
	}
	if entries[1].Level != zapcore.DebugLevel {
		t.Fatalf("expected trace at debug level, got %s", entries[1].Level)
	}
}

func TestLoggerHonorsLevel(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.WarnLevel)
	logger.Debug("dropped")
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept")
	if logs.Len() != 2 {
		t.Fatalf("expected warn and error only, got %d", logs.Len())
	}
}

func TestWithContextAddsRequestID(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.InfoLevel)
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")

	logger.WithContext(ctx).Info("request served")
	logger.WithContext(context.Background()).Info("background")

	entries := logs.All()
	if entries[0].ContextMap()["request_id"] != "req-42" {
		t.Fatalf("expected request id field, got %v", entries[0].ContextMap())
	}
	if _, ok := entries[1].ContextMap()["request_id"]; ok {
		t.Fatalf("expected no request id without one in context")
	}
}

func TestWithFieldsFeedsObserver(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.DebugLevel)
	obs := core.NewObserver("eventhooks", logger, nil)

	obs.Warn(context.Background(), "delivery failed", map[string]any{"attempt_id": "att_1"})

	entries := logs.FilterMessage("delivery failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one observer entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["attempt_id"] != "att_1" {
		t.Fatalf("expected observer fields on zap entry, got %v", entries[0].ContextMap())
	}
}

func TestProviderNamesLoggers(t *testing.T) {
	zcore, logs := observer.New(zapcore.InfoLevel)
	provider := NewProvider(zap.New(zcore))

	provider.GetLogger("dispatcher").Info("started")
	if got := logs.All()[0].LoggerName; got != "dispatcher" {
		t.Fatalf("expected named logger, got %q", got)
	}
}

func TestResolveDeterministicFallback(t *testing.T) {
	zcore, _ := observer.New(zapcore.InfoLevel)
	provider := NewProvider(zap.New(zcore))
	direct := NewLogger(zap.NewNop())

	_, resolved := Resolve("eventhooks", provider, direct)
	if resolved == glog.Logger(direct) {
		t.Fatalf("expected provider logger precedence")
	}

	resolvedProvider, resolved := Resolve("eventhooks", nil, direct)
	if resolved != glog.Logger(direct) {
		t.Fatalf("expected direct logger when provider is nil")
	}
	if resolvedProvider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	if _, resolved = Resolve("eventhooks", nil, nil); resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestNewZapValidatesLevel(t *testing.T) {
	if _, err := NewZap(core.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected invalid level error")
	}
	logger, err := NewZap(core.LoggingConfig{Level: "debug", Environment: "production"})
	if err != nil {
		t.Fatalf("new zap: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}
}

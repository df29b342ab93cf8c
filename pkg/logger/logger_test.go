package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithOrderID(ctx, "order-1")

	log.Error(ctx, "boom", errors.New("boom"))

	for _, field := range []string{"\"request_id\"", "\"order_id\"", "\"stack\""} {
		if !bytes.Contains(buf.Bytes(), []byte(field)) {
			t.Fatalf("expected %s on entry; entry=%s", field, buf.String())
		}
	}
}

func TestLoggerWithActor(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: buf})

	ctx := log.WithActor(context.Background(), "staff-9", "staff")
	log.Info(ctx, "status changed")

	if !bytes.Contains(buf.Bytes(), []byte("\"actor_id\":\"staff-9\"")) {
		t.Fatalf("expected actor_id on entry; entry=%s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\"actor_role\":\"staff\"")) {
		t.Fatalf("expected actor_role on entry; entry=%s", buf.String())
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected stack when warn stack enabled; entry=%s", buf.String())
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Output: buf})
	quiet.Warn(context.Background(), "warny")
	if bytes.Contains(buf.Bytes(), []byte("\"stack\"")) {
		t.Fatalf("expected no stack when warn stack disabled; entry=%s", buf.String())
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: buf})
	log.Debug(context.Background(), "noise")
	if buf.Len() != 0 {
		t.Fatalf("expected debug entry to be dropped, got %s", buf.String())
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel(" WARN "); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", lvl)
	}
}

func TestLoggerErrorTagsTypedCode(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	ctx := log.WithLockHolder(context.Background(), "order-1", "staff-2")
	log.Error(ctx, "acquire failed", pkgerrors.New(pkgerrors.CodeLocked, "held"))

	for _, field := range []string{`"error_code":"RESOURCE_LOCKED"`, `"retryable":true`, `"holder_id":"staff-2"`} {
		if !bytes.Contains(buf.Bytes(), []byte(field)) {
			t.Fatalf("expected %s on entry; entry=%s", field, buf.String())
		}
	}
}

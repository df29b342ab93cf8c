package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/foodops-backend/pkg/env"
	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	// WarnStack attaches a stack trace to warnings as well as errors.
	WarnStack bool
	Output    io.Writer
}

// Logger writes JSON lines (or console output when FOODOPS_LOG_FORMAT=console)
// and carries request-scoped fields through the context.
type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	base := zerolog.New(writer(opts.Output)).
		Level(level).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger()
	return &Logger{base: base, warnStack: opts.WarnStack}
}

func writer(out io.Writer) io.Writer {
	if out == nil {
		out = os.Stdout
	}
	if env.First("json", "FOODOPS_LOG_FORMAT", "LOG_FORMAT") == "console" {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	return out
}

// ParseLevel maps FOODOPS_LOG_LEVEL to a zerolog level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) from(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
			return entry
		}
	}
	return l.base
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return context.WithValue(ctx, ctxKey{}, l.from(ctx).With().Interface(key, value).Logger())
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	builder := l.from(ctx).With()
	for k, v := range fields {
		builder = builder.Interface(k, v)
	}
	return context.WithValue(ctx, ctxKey{}, builder.Logger())
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

// WithActor tags every subsequent entry with the acting principal.
func (l *Logger) WithActor(ctx context.Context, actorID, role string) context.Context {
	return l.WithFields(ctx, map[string]any{"actor_id": actorID, "actor_role": role})
}

func (l *Logger) WithOrderID(ctx context.Context, orderID string) context.Context {
	return l.WithField(ctx, "order_id", orderID)
}

// WithLockHolder tags entries emitted while acting on behalf of a lock holder.
func (l *Logger) WithLockHolder(ctx context.Context, orderID, holderID string) context.Context {
	return l.WithFields(ctx, map[string]any{"order_id": orderID, "holder_id": holderID})
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	entry := l.from(ctx)
	entry.Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	entry := l.from(ctx)
	entry.Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	entry := l.from(ctx)
	event := entry.Warn()
	if l.warnStack {
		event = event.Str("stack", stackTrace())
	}
	event.Msg(msg)
}

// Error always carries a stack; typed errors also log their code and whether
// the caller may retry.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	entry := l.from(ctx)
	event := entry.Error()
	if err != nil {
		event = event.Err(err)
		if typed := pkgerrors.As(err); typed != nil {
			event = event.Str("error_code", string(typed.Code())).Bool("retryable", pkgerrors.IsRetryable(err))
		}
	}
	event.Str("stack", stackTrace()).Msg(msg)
}

func stackTrace() string {
	return strings.TrimSpace(string(debug.Stack()))
}

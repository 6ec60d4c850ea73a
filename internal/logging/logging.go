// Package logging builds the zap logger used for diagnostics. Diagnostics
// always go to stderr so stdout stays reserved for command output.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger output.
type Config struct {
	// Format is "console" (human readable) or "json". Default: console.
	Format string

	// Level is the minimum level: debug, info, warn or error. Default: warn.
	Level string

	// Version is attached to every entry when set.
	Version string

	// Output overrides stderr; used by tests.
	Output io.Writer
}

// New builds a logger from cfg.
func New(cfg Config) *zap.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var enc zapcore.Encoder
	if strings.ToLower(cfg.Format) == "json" {
		ecfg := zap.NewProductionEncoderConfig()
		ecfg.EncodeTime = zapcore.ISO8601TimeEncoder
		ecfg.EncodeCaller = zapcore.ShortCallerEncoder
		enc = zapcore.NewJSONEncoder(ecfg)
	} else {
		ecfg := zap.NewDevelopmentEncoderConfig()
		ecfg.EncodeLevel = zapcore.CapitalLevelEncoder
		ecfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		ecfg.EncodeCaller = zapcore.ShortCallerEncoder
		enc = zapcore.NewConsoleEncoder(ecfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), zap.NewAtomicLevelAt(ParseLevel(cfg.Level)))
	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if cfg.Version != "" {
		l = l.With(zap.String("version", cfg.Version))
	}
	return l
}

// ParseLevel converts a level name. Unknown names fall back to warn.
func ParseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

type ctxKey struct{}

// ToContext stores l in ctx.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger stored in ctx, or a no-op logger.
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return zap.NewNop()
}

// Fingerprint is the field used for key fingerprints.
func Fingerprint(fp string) zap.Field { return zap.String("fingerprint", fp) }

// Op is the field used for backend operation names.
func Op(op string) zap.Field { return zap.String("op", op) }

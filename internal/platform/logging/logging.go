package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	isatty "github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger writing to w. format is one of auto, console, json
// or logfmt; auto picks console on a terminal and logfmt otherwise.
func New(w io.Writer, level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format(time.RFC3339))
	}
	config.EncodeDuration = func(d time.Duration, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(d.String())
	}

	if format == "auto" {
		format = "logfmt"
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = "console"
		}
	}

	var enc zapcore.Encoder
	switch format {
	case "console":
		enc = zapcore.NewConsoleEncoder(config)
	case "json":
		enc = zapcore.NewJSONEncoder(config)
	case "logfmt":
		enc = zaplogfmt.NewEncoder(config)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return zap.New(zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), lvl)), nil
}

// Operation logs the start of op and returns a logger tagged with it plus
// a func that logs completion with the elapsed time.
func Operation(log *zap.Logger, msg, op string, fields ...zap.Field) (*zap.Logger, func()) {
	start := time.Now()
	l := log.With(append([]zap.Field{zap.String("op_name", op)}, fields...)...)
	l.Debug(msg + " (start)")
	return l, func() {
		l.Debug(msg+" (end)", zap.Duration("took", time.Since(start)))
	}
}

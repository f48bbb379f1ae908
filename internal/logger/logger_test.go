package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"panic": zapcore.PanicLevel,
		"fatal": zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestFromContext falls back to the global logger and honors ToContext.
func TestFromContext(t *testing.T) {
	t.Parallel()

	base := FromContext(context.Background())
	require.NotNil(t, base)

	named := base.Named("test")
	ctx := ToContext(context.Background(), named)
	require.Same(t, named, FromContext(ctx))

	// WithName and WithKV derive new loggers rather than mutating the
	// attached one.
	require.NotSame(t, named, FromContext(WithName(ctx, "sub")))
	require.NotSame(t, named, FromContext(WithKV(ctx, "channel", "crank_left")))
	require.Same(t, named, FromContext(ctx))
}

package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		" DEBUG ": zerolog.DebugLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestSelectWriterAutoWithoutTTY(t *testing.T) {
	orig := isTerminalFn
	defer func() { isTerminalFn = orig }()

	isTerminalFn = func(int) bool { return false }
	_, isConsole := selectWriter("auto").(zerolog.ConsoleWriter)
	assert.False(t, isConsole)

	isTerminalFn = func(int) bool { return true }
	_, isConsole = selectWriter("auto").(zerolog.ConsoleWriter)
	assert.True(t, isConsole)
}

func TestInitSetsGlobalLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)
	Init(Config{Format: "json", Level: "warn", Component: "test"})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

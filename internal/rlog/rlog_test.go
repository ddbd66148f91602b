package rlog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stretchr/testify/assert"
)

// TestNewWritesJSONToNonTTYWriter verifies a plain bytes.Buffer (never a
// TTY) gets structured JSON lines, not ANSI-styled console output.
func TestNewWritesJSONToNonTTYWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, false)
	log.Info().Str("k", "v").Msg("hello")

	out := buf.String()
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
	assert.Contains(t, out, `"msg":"hello"`)
}

// TestNewHonorsVerboseLevel verifies verbose=false suppresses debug-level
// records while verbose=true admits them.
func TestNewHonorsVerboseLevel(t *testing.T) {
	t.Parallel()

	var quiet bytes.Buffer
	New(&quiet, false).Debug().Msg("should not appear")
	assert.Empty(t, quiet.String())

	var loud bytes.Buffer
	logger := New(&loud, true)
	logger.Debug().Msg("should appear")
	assert.NotEmpty(t, loud.String())
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
}

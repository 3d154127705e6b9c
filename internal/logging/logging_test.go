package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsLoggerForKnownLevel(t *testing.T) {
	logger, err := New("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(-1)) // debug level
}

func TestNewFallsBackToInfoForUnknownLevel(t *testing.T) {
	logger, err := New("not-a-level")
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(-1)) // debug suppressed at info
	assert.True(t, logger.Core().Enabled(0))   // info enabled
}

package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-resolver-go/pkg/config"
)

func TestPartyOptionsFromConfig(t *testing.T) {
	t.Setenv("MEDIA_RESOLVER_CONFIG", "")
	t.Setenv("PARTY_SEEK_THRESHOLD", "2s")
	t.Setenv("PARTY_PAUSED_INTERVAL", "3s")

	cfg, err := config.Load()
	require.NoError(t, err)

	opts := partyOptions(cfg)
	assert.Equal(t, 900*time.Millisecond, opts.PlayingInterval)
	assert.Equal(t, 900*time.Millisecond, opts.PlayingDrift)
	assert.Equal(t, 3*time.Second, opts.PausedInterval)
	assert.Equal(t, 1200*time.Millisecond, opts.PausedDrift)
	assert.Equal(t, 2*time.Second, opts.SeekThreshold)
}

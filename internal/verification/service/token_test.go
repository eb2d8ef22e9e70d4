package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/pkg/platform/sentinel"
)

// Expiry is checked against the codec's own clock, not wall time, so
// suites that pin their clock stay deterministic.
func TestTokenCodecFollowsInjectedClock(t *testing.T) {
	codec := NewTokenCodec("test-signing-key")
	pinned := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	codec.now = func() time.Time { return pinned }

	token, err := codec.Issue("req-1", "party-1", pinned.Add(48*time.Hour))
	require.NoError(t, err)

	requestID, partyID, err := codec.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "req-1", requestID)
	assert.Equal(t, "party-1", partyID)

	codec.now = func() time.Time { return pinned.Add(49 * time.Hour) }
	_, _, err = codec.Parse(token)
	require.ErrorIs(t, err, sentinel.ErrExpired)
}

func TestTokenCodecRejectsTampering(t *testing.T) {
	pinned := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	codec := NewTokenCodec("test-signing-key")
	codec.now = func() time.Time { return pinned }

	token, err := codec.Issue("req-1", "party-1", pinned.Add(time.Hour))
	require.NoError(t, err)

	other := NewTokenCodec("a-different-key")
	other.now = codec.now
	_, _, err = other.Parse(token)
	require.Error(t, err)
}

func TestServiceClockPropagatesToTokens(t *testing.T) {
	pinned := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	codec := NewTokenCodec("test-signing-key")

	svc := &Service{tokens: codec, now: time.Now}
	WithClock(func() time.Time { return pinned })(svc)

	token, err := codec.Issue("req-1", "party-1", pinned.Add(time.Hour))
	require.NoError(t, err)
	_, _, err = codec.Parse(token)
	require.NoError(t, err)
}

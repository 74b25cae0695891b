package csrf

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = bytes.Repeat([]byte("k"), 32)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newService(t *testing.T, c *clock) *Service {
	t.Helper()
	svc, err := NewService(DefaultConfig(testSecret), WithClock(c.Now))
	require.NoError(t, err)
	return svc
}

func TestRoundTripAndReplay(t *testing.T) {
	c := &clock{now: time.UnixMilli(1_700_000_000_000)}
	svc := newService(t, c)

	token, err := svc.Create("sess-1")
	require.NoError(t, err)
	parts := strings.Split(token, ":")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 64, "32 random bytes hex encoded")
	assert.Equal(t, "1700000000000", parts[1])
	assert.Len(t, parts[2], 64)

	assert.Equal(t, Result{Valid: true}, svc.Validate("sess-1", token))
	assert.Equal(t, Result{Valid: true}, svc.Validate("sess-1", token), "replay before expiry stays valid")
}

func TestExpiryBoundaryIsInclusive(t *testing.T) {
	c := &clock{now: time.UnixMilli(1_700_000_000_000)}
	svc := newService(t, c)
	token, err := svc.Create("sess-1")
	require.NoError(t, err)

	c.now = c.now.Add(time.Hour)
	assert.True(t, svc.Validate("sess-1", token).Valid, "age equal to timeout")

	c.now = c.now.Add(time.Millisecond)
	assert.Equal(t, Result{Error: "expired"}, svc.Validate("sess-1", token))
	assert.ErrorIs(t, svc.Check("sess-1", token), ErrExpired)
}

func TestSignatureBindsSession(t *testing.T) {
	svc := newService(t, &clock{now: time.Now()})
	token, err := svc.Create("sess-1")
	require.NoError(t, err)

	assert.Equal(t, Result{Error: "signature mismatch"}, svc.Validate("sess-2", token))

	parts := strings.Split(token, ":")
	tampered := parts[0] + ":" + parts[1] + ":" + strings.Repeat("0", 64)
	assert.ErrorIs(t, svc.Check("sess-1", tampered), ErrSignatureMismatch)

	shifted := parts[0] + ":1:" + parts[2]
	assert.ErrorIs(t, svc.Check("sess-1", shifted), ErrSignatureMismatch, "timestamp is covered by the signature")
}

func TestSignatureOrderPrecedesExpiry(t *testing.T) {
	c := &clock{now: time.UnixMilli(1_000)}
	svc := newService(t, c)
	token, err := svc.Create("sess-1")
	require.NoError(t, err)

	c.now = c.now.Add(48 * time.Hour)
	assert.ErrorIs(t, svc.Check("other", token), ErrSignatureMismatch)
}

func TestMalformedTokens(t *testing.T) {
	svc := newService(t, &clock{now: time.Now()})
	for _, token := range []string{"", "abc", "a:b", "a:b:c:d", "a::c", ":1:c", "a:1:", "a:notanumber:c"} {
		res := svc.Validate("sess-1", token)
		assert.False(t, res.Valid, token)
		assert.Equal(t, "invalid format", res.Error, token)
	}
}

func TestNewServiceValidatesConfig(t *testing.T) {
	cfg := DefaultConfig([]byte("short"))
	_, err := NewService(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig(testSecret)
	cfg.SessionTimeout = 0
	_, err = NewService(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig(testSecret)
	cfg.HeaderName = ""
	_, err = NewService(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDeriveSecret(t *testing.T) {
	a, err := DeriveSecret([]byte("session-secret"))
	require.NoError(t, err)
	b, err := DeriveSecret([]byte("session-secret"))
	require.NoError(t, err)
	other, err := DeriveSecret([]byte("another-secret"))
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
	assert.NotEqual(t, []byte("session-secret"), a)

	_, err = DeriveSecret(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTokenLength(t *testing.T) {
	cfg := DefaultConfig(testSecret)
	cfg.TokenLength = 16
	svc, err := NewService(cfg, WithRandom(bytes.NewReader(bytes.Repeat([]byte{0xab}, 16))))
	require.NoError(t, err)

	token, err := svc.Create("s")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, strings.Repeat("ab", 16)+":"))
}

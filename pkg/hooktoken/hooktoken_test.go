package hooktoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	s := NewSigner("s3cret", time.Hour)
	tok, err := s.Issue("sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	assert.NoError(t, s.Verify(tok, "sess-1"))
	assert.ErrorIs(t, s.Verify(tok, "sess-2"), ErrWrongSession)
	assert.ErrorIs(t, s.Verify("", "sess-1"), ErrInvalidToken)
	assert.ErrorIs(t, s.Verify("garbage", "sess-1"), ErrInvalidToken)
}

func TestWrongSecretRejected(t *testing.T) {
	tok, err := NewSigner("one", time.Hour).Issue("sess-1")
	require.NoError(t, err)
	assert.ErrorIs(t, NewSigner("two", time.Hour).Verify(tok, "sess-1"), ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	s := NewSigner("s3cret", time.Minute)
	base := time.Now()
	s.now = func() time.Time { return base }
	tok, err := s.Issue("sess-1")
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.ErrorIs(t, s.Verify(tok, "sess-1"), ErrInvalidToken)
}

func TestDisabledSigner(t *testing.T) {
	s := NewSigner("", time.Hour)
	assert.False(t, s.Enabled())
	tok, err := s.Issue("sess-1")
	require.NoError(t, err)
	assert.Empty(t, tok)
	assert.NoError(t, s.Verify("", "sess-1"))

	var nilSigner *Signer
	assert.False(t, nilSigner.Enabled())
	assert.NoError(t, nilSigner.Verify("", "x"))
}

package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	k1, err := Hash("correct horse battery staple", salt)
	require.NoError(t, err)
	k2, err := Hash("correct horse battery staple", salt)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
}

func TestVerifyRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	key, err := Hash("s3cret", salt)
	require.NoError(t, err)

	ok, err := Verify("s3cret", salt, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsWrongPassword(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	key, err := Hash("s3cret", salt)
	require.NoError(t, err)

	for _, wrong := range []string{"", "s3cret ", "S3cret", "s3cret1", "t3cret"} {
		ok, err := Verify(wrong, salt, key)
		require.NoError(t, err)
		assert.False(t, ok, "password %q must not verify", wrong)
	}
}

func TestVerifyRejectsWrongSalt(t *testing.T) {
	salt1, err := NewSalt()
	require.NoError(t, err)
	salt2, err := NewSalt()
	require.NoError(t, err)

	key, err := Hash("s3cret", salt1)
	require.NoError(t, err)

	ok, err := Verify("s3cret", salt2, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Verification time is dominated by the KDF, and the final comparison
// is subtle.ConstantTimeCompare, which inspects every byte regardless
// of where the first mismatch sits. This pins the behavioral half of
// that property: a flip at any position fails identically.
func TestVerifyComparesFullKey(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	key, err := Hash("s3cret", salt)
	require.NoError(t, err)

	for i := range key {
		mutated := append([]byte(nil), key...)
		mutated[i] ^= 0x01
		ok, err := Verify("s3cret", salt, mutated)
		require.NoError(t, err)
		assert.False(t, ok, "key with byte %d flipped must not verify", i)
	}

	// Length mismatches never verify either.
	ok, err := Verify("s3cret", salt, key[:keyLen-1])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewSaltIsRandom(t *testing.T) {
	s1, err := NewSalt()
	require.NoError(t, err)
	s2, err := NewSalt()
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
}

package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeAuth(t *testing.T, password string) []byte {
	t.Helper()
	salt := make([]byte, 32)
	_, err := rand.Read(salt)
	require.NoError(t, err)
	digest := Hash(password, salt)
	return append(digest[:], salt...)
}

func TestVerify(t *testing.T) {
	auth := makeAuth(t, "hunter2")
	assert.True(t, Verify(auth, "hunter2"))
	assert.False(t, Verify(auth, "hunter3"))
	assert.False(t, Verify(auth, ""))
}

func TestVerifyUnsetPassword(t *testing.T) {
	// All-zero blob means no password on file; nothing may match it.
	auth := make([]byte, AuthSize)
	assert.False(t, Verify(auth, ""))
	assert.False(t, Verify(auth, "anything"))
}

func TestVerifyWrongLength(t *testing.T) {
	assert.False(t, Verify(nil, "x"))
	assert.False(t, Verify(make([]byte, 32), "x"))
	assert.False(t, Verify(make([]byte, 65), "x"))
}

func TestHashDependsOnSalt(t *testing.T) {
	saltA := make([]byte, 32)
	saltB := make([]byte, 32)
	saltB[7] = 1
	assert.NotEqual(t, Hash("pw", saltA), Hash("pw", saltB))
}

func TestSelfTest(t *testing.T) {
	require.NoError(t, SelfTest())
}

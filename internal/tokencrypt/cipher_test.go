package tokencrypt_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creatorlens/channellink/internal/tokencrypt"
)

func newCipher(t *testing.T) *tokencrypt.Cipher {
	t.Helper()
	key, err := tokencrypt.GenerateKey()
	require.NoError(t, err)
	c, err := tokencrypt.NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newCipher(t)

	record, err := c.Seal("conn-1", []byte(`{"access_token":"at"}`))
	require.NoError(t, err)
	assert.NotContains(t, record, "access_token")

	plaintext, err := c.Open("conn-1", record)
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"at"}`, string(plaintext))
}

func TestCipher_WrongConnectionIDFailsToOpen(t *testing.T) {
	c := newCipher(t)

	record, err := c.Seal("conn-1", []byte("secret"))
	require.NoError(t, err)

	_, err = c.Open("conn-2", record)
	require.Error(t, err)
}

func TestCipher_TamperedRecordFailsToOpen(t *testing.T) {
	c := newCipher(t)

	record, err := c.Seal("conn-1", []byte("secret"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(record)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = c.Open("conn-1", tampered)
	require.Error(t, err)
}

func TestNewCipher_RejectsBadKeys(t *testing.T) {
	_, err := tokencrypt.NewCipher("not base64!!")
	require.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	_, err = tokencrypt.NewCipher(short)
	require.Error(t, err)
}

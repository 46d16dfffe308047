package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
)

func TestGenerateAndVerify(t *testing.T) {
	secret, err := Generate()
	require.NoError(t, err)
	assert.Len(t, secret, 43)

	other, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)

	hash, err := Hash(secret)
	require.NoError(t, err)
	assert.NotContains(t, hash, secret)
	assert.NoError(t, Verify(secret, hash))

	err = Verify(other, hash)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestHashRejectsEmpty(t *testing.T) {
	_, err := Hash("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestFormatParseRoundTrip(t *testing.T) {
	keyID := domain.NewAPIKeyID()
	secret := "ab_cd-ef_gh"

	plaintext := Format(keyID, secret)
	assert.True(t, strings.HasPrefix(plaintext, DisplayPrefix(keyID)))

	gotID, gotSecret, err := Parse(plaintext)
	require.NoError(t, err)
	assert.Equal(t, keyID, gotID)
	assert.Equal(t, secret, gotSecret)
}

func TestParseRejectsMalformedKeys(t *testing.T) {
	valid := Format(domain.NewAPIKeyID(), "secret")
	for _, raw := range []string{
		"",
		"secret",
		"sk_" + valid[len(KeyPrefix):],
		KeyPrefix + "nothex_secret",
		KeyPrefix + strings.Repeat("0", 32) + "_secret",
		valid[:len(KeyPrefix)+32] + "_",
		valid[:len(KeyPrefix)+32],
	} {
		_, _, err := Parse(raw)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized), "input %q", raw)
	}
}

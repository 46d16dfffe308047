package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "dataplane/pkg/domain-errors"
)

func TestActor(t *testing.T) {
	t.Run("zero actor is rejected", func(t *testing.T) {
		var a Actor
		assert.True(t, a.IsZero())
		err := a.Validate()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("user actor exposes only user id", func(t *testing.T) {
		uid := UserID(uuid.New())
		a := UserActor(uid)
		got, ok := a.UserID()
		assert.True(t, ok)
		assert.Equal(t, uid, got)
		_, ok = a.APIKeyID()
		assert.False(t, ok)
	})

	t.Run("api key actor exposes only key id", func(t *testing.T) {
		kid := NewAPIKeyID()
		a := APIKeyActor(kid)
		got, ok := a.APIKeyID()
		assert.True(t, ok)
		assert.Equal(t, kid, got)
		_, ok = a.UserID()
		assert.False(t, ok)
	})

	t.Run("json round trip writes one identity", func(t *testing.T) {
		a := APIKeyActor(NewAPIKeyID())
		b, err := json.Marshal(a)
		require.NoError(t, err)
		assert.NotContains(t, string(b), "user_id")

		var decoded Actor
		require.NoError(t, json.Unmarshal(b, &decoded))
		assert.Equal(t, a, decoded)
	})

	t.Run("json with both identities is rejected", func(t *testing.T) {
		raw := `{"user_id":"` + uuid.NewString() + `","api_key_id":"` + uuid.NewString() + `"}`
		var decoded Actor
		err := json.Unmarshal([]byte(raw), &decoded)
		require.Error(t, err)
	})
}

func TestPermissionAllows(t *testing.T) {
	assert.True(t, PermissionAdmin.Allows(PermissionWrite))
	assert.True(t, PermissionWrite.Allows(PermissionRead))
	assert.False(t, PermissionRead.Allows(PermissionWrite))
	assert.False(t, Permission(0).Allows(PermissionRead))
}

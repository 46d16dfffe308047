package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches outer code", func(t *testing.T) {
		err := New(CodeNotFound, "dataset not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeValidation))
	})

	t.Run("matches wrapped code", func(t *testing.T) {
		inner := New(CodeValidation, "field \"age\" is required")
		outer := Wrap(inner, CodeInternal, "import failed")
		assert.True(t, HasCode(outer, CodeValidation))
		assert.True(t, HasCode(outer, CodeInternal))
	})

	t.Run("sees through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("store: %w", New(CodeConflict, "dataset archived"))
		assert.True(t, HasCode(err, CodeConflict))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestErrorsIsComparesCodeAndMessage(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", New(CodeForbidden, "access denied"))
	require.ErrorIs(t, err, New(CodeForbidden, "access denied"))
	assert.NotErrorIs(t, err, New(CodeForbidden, "other"))
}

func TestFieldOf(t *testing.T) {
	err := Wrap(NewField(CodeValidation, "age", "field \"age\" is required"), CodeValidation, "invalid record")
	assert.Equal(t, "age", FieldOf(err))
	assert.Equal(t, "", FieldOf(New(CodeNotFound, "x")))
}

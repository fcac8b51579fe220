package custom_errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	v := &ValidationError{}
	assert.False(t, v.HasError())
	assert.Equal(t, "", v.Error())

	v.Add(errors.New("worker concurrency must be positive"))
	v.Add(errors.New("poll interval must be positive"))
	assert.True(t, v.HasError())
	assert.Contains(t, v.Error(), "worker concurrency")
	assert.Equal(t, "worker concurrency must be positive; poll interval must be positive", v.Error())

	v.Add(nil)
	assert.Len(t, v.Errors, 2)
}

func TestValidationErrorUnwrap(t *testing.T) {
	missing := errors.New("missing settings.siteName")
	v := &ValidationError{}
	v.Add(missing)

	wrapped := fmt.Errorf("import seed: %w", v)
	assert.ErrorIs(t, wrapped, missing)

	got, ok := AsValidation(wrapped)
	assert.True(t, ok)
	assert.Same(t, v, got)

	_, ok = AsValidation(missing)
	assert.False(t, ok)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("unknown template")
	err := fmt.Errorf("send_email: %w", Permanent(base))
	assert.True(t, IsPermanent(err))
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, "send_email: unknown template", err.Error())

	assert.False(t, IsPermanent(base))
}

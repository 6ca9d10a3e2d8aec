package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("conn refused")

	err := TransientError("failed to connect", base)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.ErrorIs(t, err, base)

	wrapped := fmt.Errorf("sync: %w", err)
	assert.Equal(t, KindTransient, KindOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(base))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestAppErrorMessage(t *testing.T) {
	assert.Equal(t, "account not found", ConfigurationError("account not found", nil).Error())
	assert.Equal(t, "cache write failed: disk full",
		PersistenceError("cache write failed", errors.New("disk full")).Error())
}

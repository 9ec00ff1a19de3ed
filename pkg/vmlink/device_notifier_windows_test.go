package vmlink

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-ole/go-ole"
	"github.com/stretchr/testify/assert"
)

func TestIsDeviceNotFound(t *testing.T) {
	assert.True(t, isDeviceNotFound(ole.NewError(eNotFound)))
	assert.True(t, isDeviceNotFound(fmt.Errorf("get device: %w", ole.NewError(eNotFound))))

	// E_OUTOFMEMORY and friends are real failures, not an absent device
	assert.False(t, isDeviceNotFound(ole.NewError(0x8007000E)))
	assert.False(t, isDeviceNotFound(ole.NewError(0x80004005)))
	assert.False(t, isDeviceNotFound(errors.New("not found")))
}

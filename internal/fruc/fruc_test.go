package fruc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailableDoesNotPanicWithoutLibrary(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = Available()
	})
}

func TestNewFailsGracefullyWithoutLibrary(t *testing.T) {
	if Available() {
		t.Skip("NvOFFRUC present on this host; graceful-absence path not exercised")
	}
	_, err := New(1920, 1080)
	assert.Error(t, err)
}

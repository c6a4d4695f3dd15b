package nerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserHintThroughContext(t *testing.T) {
	base := Portal("no streams returned")
	wrapped := Context(base, "starting session")
	wrapped = Context(wrapped, "cast command")

	require.Equal(t, "cast command: starting session: Portal: no streams returned", wrapped.Error())
	assert.Contains(t, UserHint(wrapped), "xdg-desktop-portal")
}

func TestIsUserRecoverable(t *testing.T) {
	assert.True(t, IsUserRecoverable(Portal("x")))
	assert.True(t, IsUserRecoverable(Config("x")))
	assert.False(t, IsUserRecoverable(Encoder("x")))
	assert.False(t, IsUserRecoverable(Unsupported("dma-buf encode")))
}

func TestUnwrapChain(t *testing.T) {
	base := Nvenc("driver init failed")
	wrapped := Context(base, "encoder setup")

	var target *Error
	require.True(t, errors.As(wrapped, &target))
	assert.Equal(t, KindNvenc, target.Kind)
}

func TestSentinelSessionErrors(t *testing.T) {
	assert.Equal(t, "NoActiveSession", ErrNoActiveSession.Error())
	assert.Equal(t, "SessionAlreadyRunning", ErrSessionAlreadyRunning.Error())
}

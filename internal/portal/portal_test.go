package portal

import (
	"path/filepath"
	"testing"

	"github.com/ghostkellz/nitrogen/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectionBitmask(t *testing.T) {
	assert.Equal(t, sourceTypeMonitor, selectionBitmask(types.SelectMonitor))
	assert.Equal(t, sourceTypeWindow, selectionBitmask(types.SelectWindow))
	assert.Equal(t, sourceTypeMonitor|sourceTypeWindow, selectionBitmask(types.SelectBoth))
}

func TestCursorBitmask(t *testing.T) {
	assert.Equal(t, cursorModeHidden, cursorBitmask(types.CursorHidden))
	assert.Equal(t, cursorModeEmbedded, cursorBitmask(types.CursorEmbedded))
	assert.Equal(t, cursorModeMetadata, cursorBitmask(types.CursorMetadata))
}

func TestFirstStreamNodeIDSliceOfInterfaceShape(t *testing.T) {
	v := []interface{}{
		[]interface{}{uint32(42), map[string]interface{}{}},
	}
	nodeID, ok := firstStreamNodeID(v)
	require.True(t, ok)
	assert.Equal(t, uint32(42), nodeID)
}

func TestFirstStreamNodeIDNestedSliceShape(t *testing.T) {
	v := [][]interface{}{
		{uint32(7), map[string]interface{}{}},
	}
	nodeID, ok := firstStreamNodeID(v)
	require.True(t, ok)
	assert.Equal(t, uint32(7), nodeID)
}

func TestFirstStreamNodeIDEmptyIsNotFound(t *testing.T) {
	_, ok := firstStreamNodeID([]interface{}{})
	assert.False(t, ok)

	_, ok = firstStreamNodeID("unexpected")
	assert.False(t, ok)
}

func TestRestoreTokenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := &Portal{tokenPath: filepath.Join(dir, "nitrogen", "portal_token")}

	p.loadRestoreToken() // no file yet, should not panic
	assert.Empty(t, p.restoreToken)

	p.restoreToken = "abc123"
	p.saveRestoreToken()

	p2 := &Portal{tokenPath: p.tokenPath}
	p2.loadRestoreToken()
	assert.Equal(t, "abc123", p2.restoreToken)
}

func TestTakePipeWireFD(t *testing.T) {
	info := types.SessionInfo{PipeWireFD: 9}
	assert.Equal(t, 9, TakePipeWireFD(info))
}

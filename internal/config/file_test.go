package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ghostkellz/nitrogen/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	f, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultFile(), f)
}

func TestLoadParsesPartialFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nitrogen"), 0o755))

	toml := `
[defaults]
preset = "4k60"
codec = "hevc"
bitrate = 40000

[audio]
source = "both"
codec = "opus"
`
	path := filepath.Join(dir, "nitrogen", "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))

	f, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "4k60", f.Defaults.Preset)
	assert.Equal(t, "hevc", f.Defaults.Codec)
	assert.Equal(t, uint32(40000), f.Defaults.Bitrate)
	assert.Equal(t, "both", f.Audio.Source)
	assert.Equal(t, "opus", f.Audio.Codec)

	// Sections absent from the file keep DefaultFile's values.
	assert.Equal(t, "medium", f.Encoder.Quality)
	assert.True(t, f.AV1.SpatialAQ)
}

func TestLoadRejectsMalformedToml(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nitrogen"), 0o755))
	path := filepath.Join(dir, "nitrogen", "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0o644))

	_, err := Load()
	require.Error(t, err)
}

func TestResolveAppliesVocabulary(t *testing.T) {
	f := DefaultFile()
	f.Defaults.Preset = "1440p60"
	f.Defaults.Codec = "av1"
	f.Audio.Source = "microphone"

	src := types.CaptureSource{Kind: types.SourceMonitor, ID: "0"}
	cc, err := Resolve(f, src)
	require.NoError(t, err)

	assert.Equal(t, CodecAV1, cc.Codec)
	assert.Equal(t, uint32(2560), cc.Width())
	assert.Equal(t, uint32(1440), cc.Height())
	assert.Equal(t, AudioMicrophone, cc.AudioSource)
	assert.Equal(t, src, cc.Source)
}

func TestResolveRejectsUnknownPreset(t *testing.T) {
	f := DefaultFile()
	f.Defaults.Preset = "potato-vision"

	_, err := Resolve(f, types.CaptureSource{})
	assert.Error(t, err)
}

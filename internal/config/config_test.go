package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	conf, err := Parse([]byte("fixture: site.yaml\n"))
	require.NoError(t, err)

	want := Default()
	want.Fixture = "site.yaml"
	assert.Equal(t, want, conf)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapstore.yaml")
	doc := `dataDir: /var/lib/snapstore
minimumFreeGB: 5
compression: xz
collectDelta: 16
ignoreLocalDb: true
listen: ":9000"
fixture: content.yaml
logLevel: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		DataDir:       "/var/lib/snapstore",
		MinimumFreeGB: 5,
		Compression:   "xz",
		CollectDelta:  16,
		IgnoreLocalDB: true,
		Listen:        ":9000",
		Fixture:       "content.yaml",
		LogLevel:      "debug",
	}, conf)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("dataDirectory: x\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "tuneresolve_config_*.ini")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())
	return tmpFile.Name()
}

func TestDefaults(t *testing.T) {
	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, conf.GetInt("MaxRetries"))
	assert.True(t, conf.GetBool("CacheEnabled"))
	assert.Equal(t, "lossless", conf.GetString("DefaultQuality"))

	platforms := conf.GetStringSlice("BridgePlatforms")
	require.NotEmpty(t, platforms)
	assert.Equal(t, "netease", platforms[0])
}

func TestProviderSections(t *testing.T) {
	path := writeTempConfig(t, `Database = resolve.db
BridgePlatforms = qqmusic, kuwo

[providers.tunehub]
base_url = https://tunehub.example/api/
secret = topsecret
fingerprint = v9.2.70
enabled = true

[providers.gdmusic]
base_url = https://gd.example/api.php
enabled = false
`)

	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "resolve.db", conf.GetString("Database"))
	assert.Equal(t, []string{"qqmusic", "kuwo"}, conf.GetStringSlice("BridgePlatforms"))
	assert.Len(t, conf.ProviderNames(), 2)

	assert.Equal(t, "topsecret", conf.GetProviderString("tunehub", "secret"))
	assert.True(t, conf.ProviderEnabled("tunehub"))
	assert.False(t, conf.ProviderEnabled("gdmusic"))
	assert.True(t, conf.ProviderEnabled("origin"), "providers without a section default to enabled")
}

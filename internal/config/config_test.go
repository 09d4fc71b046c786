package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bugtrail/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 210*time.Second, cfg.Breach.Threshold)
	assert.Equal(t, config.ChannelLog, cfg.Notify.Channel)
	assert.Equal(t, 64, cfg.Notify.QueueSize)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
breach:
  threshold: 90s
notify:
  channel: webhook
  webhook:
    url: https://hooks.example.com/bt
    events: [bug.resolved]
`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Breach.Threshold)
	assert.Equal(t, "https://hooks.example.com/bt", cfg.Notify.Webhook.URL)
	assert.Equal(t, []string{"bug.resolved"}, cfg.Notify.Webhook.Events)
	assert.Equal(t, 5, cfg.Notify.Webhook.TimeoutSeconds)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"zero threshold":      "breach:\n  threshold: 0s\n",
		"unknown channel":     "notify:\n  channel: pager\n",
		"webhook without url": "notify:\n  channel: webhook\n",
		"smtp without host":   "notify:\n  channel: smtp\n  smtp:\n    host: \"\"\n",
		"relative base path":  "server:\n  base_path: api\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = config.Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(config.Path(dir), []byte("breach:\n  threshold: 1m\n"), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Breach.Threshold)
}

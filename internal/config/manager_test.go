package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalJSON = `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42]},
  "sources": [{"name": "siteA", "url": "https://a.example"}]
}`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", minimalJSON))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultSchedule, cfg.Scheduler.Schedule)
	assert.Equal(t, DefaultTimezone, cfg.Scheduler.Timezone)
	assert.True(t, cfg.Scheduler.IsEnabled())
	assert.Equal(t, DefaultRunTimeout, cfg.Scheduler.RunTimeoutOrDefault())
	assert.Equal(t, DefaultStorePath, cfg.Storage.Path)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, "/users", cfg.Backend.UsersPath)
	assert.True(t, cfg.Report.AttachmentEnabled())
	assert.True(t, cfg.Telegram.IsOwner(42))
	assert.False(t, cfg.Telegram.IsOwner(7))
	assert.Same(t, cfg, m.Get())
}

func TestTokenFallsBackToEnv(t *testing.T) {
	t.Setenv(TokenEnv, "999:env")
	cfg, err := NewManager(writeConfig(t, "config.json", `{"telegram": {}}`)).Load()
	require.NoError(t, err)
	assert.Equal(t, "999:env", cfg.Telegram.Token)
}

func TestLoadYAML(t *testing.T) {
	body := `
telegram:
  token: "123:abc"
scheduler:
  enabled: false
  schedule: "00:15"
  timezone: UTC
sources:
  - name: api
    url: http://127.0.0.1:8080/health
report:
  attachment: false
`
	cfg, err := NewManager(writeConfig(t, "config.yaml", body)).Load()
	require.NoError(t, err)
	assert.False(t, cfg.Scheduler.IsEnabled())
	assert.Equal(t, "00:15", cfg.Scheduler.Schedule)
	assert.Equal(t, "UTC", cfg.Location().String())
	assert.False(t, cfg.Report.AttachmentEnabled())
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "api", cfg.Sources[0].Name)
}

func TestParseIsStrict(t *testing.T) {
	_, err := NewManager(writeConfig(t, "config.json", `{"telegram": {"token": "x"}, "plugins": {}}`)).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugins")

	_, err = NewManager(writeConfig(t, "config.json", minimalJSON+`{}`)).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Setenv(TokenEnv, "")
	cfg := &Config{
		Scheduler: SchedulerConfig{Schedule: "61 * * *x", Timezone: "Nowhere/City"},
		Sources:   []SourceConfig{{Name: "a", URL: "ftp://a"}, {Name: "a", URL: "https://b"}},
		Delivery:  DeliveryConfig{SendTimeout: "soon"},
		Storage:   StorageConfig{Driver: "redis"},
	}
	ApplyDefaults(cfg)

	err := Validate(cfg)
	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"telegram.token", "scheduler.schedule", "scheduler.timezone", "sources[0].url", "sources[1].name", "delivery.send_timeout", "storage.driver"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	path := writeConfig(t, "config.json", minimalJSON)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published, "same content")

	changed := `{"telegram": {"token": "123:abc"}, "scheduler": {"timezone": "UTC"}}`
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, published)

	got := <-ch
	assert.Equal(t, "UTC", got.Scheduler.Timezone)
	assert.Same(t, got, m.Get())
}

func TestReloadRejectsInvalidAndKeepsCurrent(t *testing.T) {
	path := writeConfig(t, "config.json", minimalJSON)
	m := NewManager(path)
	before, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"telegram": {"token": "x"}, "scheduler": {"schedule": "never"}}`), 0o644))
	_, err = m.Reload(context.Background())
	require.ErrorIs(t, err, ErrInvalid)
	assert.Same(t, before, m.Get())
}

func TestWatchPublishesEdits(t *testing.T) {
	path := writeConfig(t, "config.json", minimalJSON)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Keep editing until the watcher is up and a reload lands.
	n := 0
	require.Eventually(t, func() bool {
		n++
		body := fmt.Sprintf(`{"telegram": {"token": "123:abc"}, "report": {"title": "edit %d"}}`, n)
		_ = os.WriteFile(path, []byte(body), 0o644)
		select {
		case cfg := <-ch:
			return cfg.Report.Title != ""
		case <-time.After(400 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 50*time.Millisecond)
}

func TestSummarizeChange(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Storage: StorageConfig{Path: "x.json"}}
	newCfg := &Config{
		Telegram:  TelegramConfig{Token: "b", OwnerUserIDs: []int64{1}},
		Scheduler: SchedulerConfig{Timezone: "UTC"},
		Storage:   StorageConfig{Path: "y.json"},
	}
	changed, attrs, restart := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"scheduler", "telegram"}, changed)
	assert.NotEmpty(t, attrs)
	assert.ElementsMatch(t, []string{"telegram.token", "storage"}, restart)

	changed, _, restart = SummarizeChange(newCfg, newCfg)
	assert.Empty(t, changed)
	assert.Empty(t, restart)
}

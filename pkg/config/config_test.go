package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSecurityConfig(t *testing.T) {
	c := DefaultSecurityConfig()
	assert.False(t, c.Enabled)
	assert.False(t, c.AllowWalletSend)
	assert.True(t, c.AuditLogging)
	assert.Equal(t, 0, c.Port)
	assert.ElementsMatch(t, []string{"127.0.0.1", "::1"}, c.AllowedHostAddresses)

	warnings, err := c.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestSecurityConfigValidate(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(*SecurityConfig)
		wantErr      bool
		wantWarnings int
	}{
		{"negative port", func(c *SecurityConfig) { c.Port = -1 }, true, 0},
		{"port too large", func(c *SecurityConfig) { c.Port = 70000 }, true, 0},
		{"empty allow list", func(c *SecurityConfig) { c.AllowedHostAddresses = nil }, true, 0},
		{"hostname", func(c *SecurityConfig) { c.AllowedHostAddresses = []string{"localhost"} }, true, 0},
		{"all interfaces", func(c *SecurityConfig) { c.AllowedHostAddresses = []string{"0.0.0.0"} }, false, 1},
		{"lan address", func(c *SecurityConfig) { c.AllowedHostAddresses = []string{"192.168.1.4"} }, false, 1},
		{"wallet send", func(c *SecurityConfig) { c.AllowWalletSend = true }, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultSecurityConfig()
			tt.mutate(&c)
			warnings, err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, warnings, tt.wantWarnings)
		})
	}
}

func TestIsHostAllowed(t *testing.T) {
	c := DefaultSecurityConfig()

	assert.True(t, c.IsHostAllowed("127.0.0.1"))
	assert.True(t, c.IsHostAllowed("::1"))
	assert.True(t, c.IsHostAllowed("::ffff:127.0.0.1"))
	assert.True(t, c.IsHostAllowed("::1%lo"))
	assert.False(t, c.IsHostAllowed("10.0.0.2"))
	assert.False(t, c.IsHostAllowed("not-an-ip"))
	assert.False(t, c.IsHostAllowed(""))

	c.AllowedHostAddresses = []string{"0.0.0.0"}
	assert.True(t, c.IsHostAllowed("192.168.1.20"))
}

func TestSettingsValidate(t *testing.T) {
	s := Defaults()
	_, err := s.Validate()
	require.NoError(t, err)

	s.Transport.MaxConnections = 0
	s.Tracing.Exporter = "zipkin"
	_, err = s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_connections")
	assert.Contains(t, err.Error(), "zipkin")
}

func TestEventPort(t *testing.T) {
	s := Defaults()
	assert.Equal(t, 0, s.EventPort())

	s.MCP.Port = 9000
	assert.Equal(t, 9001, s.EventPort())

	s.Events.Port = 9100
	assert.Equal(t, 9100, s.EventPort())
}

func TestParseYAML(t *testing.T) {
	data := []byte(`
mcp:
  enabled: true
  port: 7777
transport:
  idle_timeout: 30s
  rate_limit:
    enabled: true
`)
	s, err := Parse(data, FormatYAML)
	require.NoError(t, err)

	assert.True(t, s.MCP.Enabled)
	assert.Equal(t, 7777, s.MCP.Port)
	assert.True(t, s.MCP.AuditLogging, "omitted keys keep defaults")
	assert.Equal(t, 30*time.Second, s.Transport.IdleTimeout)
	assert.True(t, s.Transport.RateLimit.Enabled)
	assert.Equal(t, DefaultRequestsPerMin, s.Transport.RateLimit.RequestsPerMinute)
	assert.Equal(t, DefaultMaxConnections, s.Transport.MaxConnections)
}

func TestParseJSONWithComments(t *testing.T) {
	data := []byte(`{
  // agents may send funds
  "mcp": {
    "allow_wallet_send": true,
    "allowed_host_addresses": ["127.0.0.1"],
  },
  /* structured logs */
  "logging": {"format": "json"}
}`)
	s, err := Parse(data, FormatJSON)
	require.NoError(t, err)

	assert.True(t, s.MCP.AllowWalletSend)
	assert.Equal(t, []string{"127.0.0.1"}, s.MCP.AllowedHostAddresses)
	assert.Equal(t, "json", s.Logging.Format)
	assert.Equal(t, "info", s.Logging.Level)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"settings.yaml", "settings.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			s := Defaults()
			s.MCP.Enabled = true
			s.MCP.Port = 4242
			s.Audit.File = "/tmp/audit.jsonl"

			require.NoError(t, Save(path, s))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, s, loaded)

			entries, err := os.ReadDir(filepath.Dir(path))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temporary files should not be left behind")
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestStoreUpdatePublishesNewSnapshot(t *testing.T) {
	store := NewStore(DefaultSecurityConfig())
	before := store.Snapshot()

	var notified []bool
	store.OnChange(func(prev, cur SecurityConfig) {
		notified = append(notified, prev.Enabled, cur.Enabled)
	})

	after, err := store.Update(func(c *SecurityConfig) {
		c.Enabled = true
		c.AllowedHostAddresses = append(c.AllowedHostAddresses, "10.0.0.5")
	})
	require.NoError(t, err)

	assert.False(t, before.Enabled, "earlier snapshot is unaffected")
	assert.Len(t, before.AllowedHostAddresses, 2)
	assert.True(t, after.Enabled)
	assert.True(t, store.Snapshot().IsHostAllowed("10.0.0.5"))
	assert.Equal(t, []bool{false, true}, notified)
}

func TestStoreRejectsInvalidUpdate(t *testing.T) {
	store := NewStore(DefaultSecurityConfig())
	_, err := store.Update(func(c *SecurityConfig) { c.Port = 99999 })
	require.Error(t, err)
	assert.Equal(t, 0, store.Snapshot().Port)
}

func TestStorePersistFailureKeepsPrevious(t *testing.T) {
	store := NewStore(DefaultSecurityConfig(), WithPersistence(func(SecurityConfig) error {
		return errors.New("disk full")
	}))
	_, err := store.Update(func(c *SecurityConfig) { c.Enabled = true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, store.Snapshot().Enabled)
}

func TestFilePersister(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	settings := Defaults()
	settings.Logging.Level = "debug"

	store := NewStore(settings.MCP, WithPersistence(FilePersister(path, settings)))
	_, err := store.Update(func(c *SecurityConfig) { c.Enabled = true })
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.MCP.Enabled)
	assert.Equal(t, "debug", loaded.Logging.Level)
}

func TestStoreConcurrentReaders(t *testing.T) {
	store := NewStore(DefaultSecurityConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := store.Snapshot()
				// A snapshot is either entirely before or entirely after.
				if snap.Enabled != snap.AllowWalletSend {
					t.Errorf("torn snapshot: %+v", snap)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		_, err := store.Update(func(c *SecurityConfig) {
			c.Enabled = !c.Enabled
			c.AllowWalletSend = c.Enabled
		})
		require.NoError(t, err)
	}
	wg.Wait()
}

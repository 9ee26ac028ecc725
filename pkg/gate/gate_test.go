package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluffypony/universe/pkg/config"
	mcperrors "github.com/fluffypony/universe/pkg/errors"
	"github.com/fluffypony/universe/pkg/host"
	"github.com/fluffypony/universe/pkg/registry"
)

// fakeEntry is a tool requiring an arbitrary capability
type fakeEntry struct {
	registry.Entry
	capability registry.Capability
}

func (f fakeEntry) RequiredCapability() registry.Capability { return f.capability }

func (f fakeEntry) Invoke(context.Context, registry.Args) (interface{}, error) { return nil, nil }

func TestAuthorize(t *testing.T) {
	reg, err := registry.New(host.NewSimulator().Collaborators())
	require.NoError(t, err)

	send, err := reg.Lookup(registry.KindTool, "send_tari")
	require.NoError(t, err)
	start, err := reg.Lookup(registry.KindTool, "start_cpu_mining")
	require.NoError(t, err)
	balance, err := reg.Lookup(registry.KindResource, "wallet_balance")
	require.NoError(t, err)

	enabled := config.DefaultSecurityConfig()
	enabled.Enabled = true
	withSend := enabled
	withSend.AllowWalletSend = true
	disabledWithSend := withSend
	disabledWithSend.Enabled = false

	tests := []struct {
		name    string
		entry   registry.Entry
		cfg     config.SecurityConfig
		allowed bool
		reason  string
	}{
		{"disabled tool", start, config.DefaultSecurityConfig(), false, "server disabled"},
		{"disabled resource", balance, config.DefaultSecurityConfig(), false, "server disabled"},
		{"disabled overrides grant", send, disabledWithSend, false, "server disabled"},
		{"no capability needed", start, enabled, true, ""},
		{"resource", balance, enabled, true, ""},
		{"send not granted", send, enabled, false, "capability not granted"},
		{"send granted", send, withSend, true, ""},
		{"unknown capability", fakeEntry{capability: "allow-node-reset"}, withSend, false, "capability not granted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Authorize(tt.entry, tt.cfg)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			if tt.allowed {
				assert.NoError(t, d.Err())
				return
			}
			err := d.Err()
			require.Error(t, err)
			assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryForbidden))
			assert.Equal(t, tt.reason, mcperrors.Reason(err))
		})
	}
}

func TestCheck(t *testing.T) {
	cfg := config.DefaultSecurityConfig()
	assert.False(t, Check(cfg).Allowed)
	assert.Equal(t, mcperrors.ReasonServerDisabled, Check(cfg).Reason)

	cfg.Enabled = true
	assert.True(t, Check(cfg).Allowed)
}

func TestDeniedCarriesCapability(t *testing.T) {
	cfg := config.DefaultSecurityConfig()
	cfg.Enabled = true
	d := Granted(registry.CapabilityWalletSend, cfg)
	require.False(t, d.Allowed)

	mcpErr, ok := mcperrors.AsMCPError(d.Err())
	require.True(t, ok)
	data, ok := mcpErr.Data().(mcperrors.ForbiddenErrorData)
	require.True(t, ok)
	assert.Equal(t, "allow-wallet-send", data.Capability)
}

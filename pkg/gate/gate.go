// Package gate decides whether a catalog entry may run under a given
// security configuration. It is pure: a decision depends only on the entry
// and the config snapshot passed in.
package gate

import (
	"github.com/fluffypony/universe/pkg/config"
	mcperrors "github.com/fluffypony/universe/pkg/errors"
	"github.com/fluffypony/universe/pkg/registry"
)

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed    bool
	Reason     string
	Capability registry.Capability
}

// Err returns the Forbidden error for a denial, or nil
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return mcperrors.Forbidden(d.Reason, string(d.Capability))
}

// grants maps each known capability to the config flag that grants it.
// Capabilities missing here are never granted.
var grants = map[registry.Capability]func(config.SecurityConfig) bool{
	registry.CapabilityWalletSend: func(cfg config.SecurityConfig) bool { return cfg.AllowWalletSend },
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string, capability registry.Capability) Decision {
	return Decision{Reason: reason, Capability: capability}
}

// Check applies the enablement test alone. It guards list and prompt
// requests that are not tied to a catalog entry.
func Check(cfg config.SecurityConfig) Decision {
	if !cfg.Enabled {
		return deny(mcperrors.ReasonServerDisabled, registry.CapabilityNone)
	}
	return allow()
}

// Authorize decides whether entry may run under cfg
func Authorize(entry registry.Entry, cfg config.SecurityConfig) Decision {
	if d := Check(cfg); !d.Allowed {
		return d
	}

	capability := entry.RequiredCapability()
	if capability == registry.CapabilityNone {
		return allow()
	}
	return Granted(capability, cfg)
}

// Granted reports whether cfg grants capability. Unknown capabilities are
// denied.
func Granted(capability registry.Capability, cfg config.SecurityConfig) Decision {
	granted, known := grants[capability]
	if !known || !granted(cfg) {
		return deny(mcperrors.ReasonCapabilityNotGranted, capability)
	}
	return allow()
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mcperrors "github.com/fluffypony/universe/pkg/errors"
	"github.com/fluffypony/universe/pkg/events"
	"github.com/fluffypony/universe/pkg/host"
)

// ErrMiningDisabled is returned when a miner is started while disabled in
// the mining configuration.
var ErrMiningDisabled = errors.New("mining is disabled in configuration")

// toolSpec is the declaration a Tool is compiled from
type toolSpec struct {
	name        ToolName
	description string
	args        []Argument
	capability  Capability
	check       SemanticCheck
	call        ToolHandler
}

func (r *Registry) toolCatalog() []toolSpec {
	usage := func(name, what string) Argument {
		return Argument{
			Name:        name,
			Type:        TypeInteger,
			Description: fmt.Sprintf("Custom %s usage percentage, only used with mode custom", what),
			Minimum:     bound(1),
			Maximum:     bound(100),
		}
	}
	enabled := Argument{
		Name:        "enabled",
		Type:        TypeBoolean,
		Required:    true,
		Description: "Whether mining should be enabled",
	}

	return []toolSpec{
		{
			name:        ToolStartCPUMining,
			description: "Start CPU mining operations",
			call:        r.startMiner("cpu", "CPU"),
		},
		{
			name:        ToolStopCPUMining,
			description: "Stop CPU mining operations",
			call:        r.stopMiner("cpu", "CPU"),
		},
		{
			name:        ToolStartGPUMining,
			description: "Start GPU mining operations",
			call:        r.startMiner("gpu", "GPU"),
		},
		{
			name:        ToolStopGPUMining,
			description: "Stop GPU mining operations",
			call:        r.stopMiner("gpu", "GPU"),
		},
		{
			name:        ToolSetMiningMode,
			description: "Set the mining mode (Eco, Ludicrous, or Custom)",
			args: []Argument{
				{
					Name:        "mode",
					Type:        TypeString,
					Required:    true,
					Description: "Mining mode to set: eco, aggressive (ludicrous) or custom",
					Enum:        []string{"eco", "aggressive", "ludicrous", "custom"},
					FoldCase:    true,
				},
				usage("custom_cpu_usage", "CPU"),
				usage("custom_gpu_usage", "GPU"),
			},
			check: checkModeChange,
			call:  r.setMiningMode,
		},
		{
			name:        ToolGetMiningConfig,
			description: "Get current mining configuration settings",
			call: func(ctx context.Context, _ Args) (interface{}, error) {
				cfg, err := r.collab.Settings.MiningConfig(ctx)
				if err != nil {
					return nil, err
				}
				return miningConfigDoc(cfg), nil
			},
		},
		{
			name:        ToolSetCPUMiningEnabled,
			description: "Enable or disable CPU mining",
			args:        []Argument{enabled},
			call:        r.setMinerEnabled("cpu", "CPU", r.collab.Settings.SetCPUMiningEnabled),
		},
		{
			name:        ToolSetGPUMiningEnabled,
			description: "Enable or disable GPU mining",
			args:        []Argument{enabled},
			call:        r.setMinerEnabled("gpu", "GPU", r.collab.Settings.SetGPUMiningEnabled),
		},
		{
			name:        ToolGetAppSettings,
			description: "Get current application settings and configuration",
			call: func(ctx context.Context, _ Args) (interface{}, error) {
				s, err := r.collab.Settings.AppSettings(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"network":             s.Network,
					"use_tor":             s.UseTor,
					"p2pool_enabled":      s.P2PoolEnabled,
					"node_type":           s.NodeType,
					"auto_update":         s.AutoUpdate,
					"allow_telemetry":     s.AllowTelemetry,
					"allow_notifications": s.AllowNotifications,
					"should_auto_launch":  s.ShouldAutoLaunch,
					"pre_release":         s.PreRelease,
				}, nil
			},
		},
		{
			name:        ToolValidateAddress,
			description: "Validate a Tari address for sending transactions",
			args: []Argument{
				{
					Name:        "address",
					Type:        TypeString,
					Required:    true,
					Description: "Tari address to validate",
				},
				{
					Name:        "sending_method",
					Type:        TypeString,
					Description: "How the transfer would be delivered",
					Enum:        []string{string(host.Interactive), string(host.OneSided)},
					Default:     string(host.OneSided),
				},
			},
			call: r.validateAddress,
		},
		{
			name:        ToolSendTari,
			description: "Send a Tari transaction to a destination address",
			capability:  CapabilityWalletSend,
			args: []Argument{
				{
					Name:        "amount",
					Type:        TypeString,
					Required:    true,
					Description: "Amount to send in Tari (e.g., '10.5')",
					Pattern:     `^[0-9]+(\.[0-9]+)?$`,
				},
				{
					Name:        "destination",
					Type:        TypeString,
					Required:    true,
					Description: "Destination Tari address",
				},
				{
					Name:        "payment_id",
					Type:        TypeString,
					Description: "Optional payment ID for the transaction",
				},
			},
			check: checkTransfer,
			call:  r.sendTari,
		},
	}
}

func (r *Registry) miner(kind string) host.Miner {
	if kind == "gpu" {
		return r.collab.GPU
	}
	return r.collab.CPU
}

func (r *Registry) startMiner(kind, label string) ToolHandler {
	return func(ctx context.Context, _ Args) (interface{}, error) {
		cfg, err := r.collab.Settings.MiningConfig(ctx)
		if err != nil {
			return nil, err
		}
		if (kind == "cpu" && !cfg.CPUMiningEnabled) || (kind == "gpu" && !cfg.GPUMiningEnabled) {
			return nil, fmt.Errorf("%s %w", label, ErrMiningDisabled)
		}

		m := r.miner(kind)
		st, err := m.Status(ctx)
		if err != nil {
			return nil, err
		}
		if st.IsMining {
			return map[string]interface{}{
				"success": true,
				"message": label + " mining is already running",
			}, nil
		}
		if err := m.Start(ctx); err != nil {
			return nil, err
		}
		r.publishMiningStatus(ctx, cfg.Mode)
		return map[string]interface{}{
			"success": true,
			"message": label + " mining started",
		}, nil
	}
}

func (r *Registry) stopMiner(kind, label string) ToolHandler {
	return func(ctx context.Context, _ Args) (interface{}, error) {
		m := r.miner(kind)
		st, err := m.Status(ctx)
		if err != nil {
			return nil, err
		}
		if !st.IsMining {
			return map[string]interface{}{
				"success": true,
				"message": label + " mining is already stopped",
			}, nil
		}
		if err := m.Stop(ctx); err != nil {
			return nil, err
		}
		mode := host.MiningMode("")
		if cfg, err := r.collab.Settings.MiningConfig(ctx); err == nil {
			mode = cfg.Mode
		}
		r.publishMiningStatus(ctx, mode)
		return map[string]interface{}{
			"success": true,
			"message": label + " mining stopped",
		}, nil
	}
}

// publishMiningStatus emits mining.status_changed with the current state of
// both miners. Status read failures only suppress the event.
func (r *Registry) publishMiningStatus(ctx context.Context, mode host.MiningMode) {
	status, err := r.miningStatus(ctx)
	if err != nil {
		return
	}
	r.publisher.Publish(events.New(events.MiningStatusChanged, map[string]interface{}{
		"cpu_mining":    status.CPUMining.IsMining,
		"gpu_mining":    status.GPUMining.IsMining,
		"mode":          string(mode),
		"cpu_hash_rate": status.CPUMining.HashRate,
		"gpu_hash_rate": status.GPUMining.HashRate,
	}))
}

func checkModeChange(args Args) []mcperrors.FieldError {
	mode, ok := host.ParseMiningMode(stringArg(args, "mode", ""))
	if !ok {
		return []mcperrors.FieldError{{Field: "mode", Message: "unknown mining mode"}}
	}
	var fields []mcperrors.FieldError
	if mode != host.ModeCustom {
		for _, name := range []string{"custom_cpu_usage", "custom_gpu_usage"} {
			if _, set := args[name]; set {
				fields = append(fields, mcperrors.FieldError{Field: name, Message: "only applies to mode custom"})
			}
		}
	}
	return fields
}

func (r *Registry) setMiningMode(ctx context.Context, args Args) (interface{}, error) {
	mode, _ := host.ParseMiningMode(stringArg(args, "mode", ""))
	change := host.ModeChange{Mode: mode}
	if v, ok := intArg(args, "custom_cpu_usage"); ok {
		change.CustomCPUUsage = &v
	}
	if v, ok := intArg(args, "custom_gpu_usage"); ok {
		change.CustomGPUUsage = &v
	}

	before, err := r.collab.Settings.MiningConfig(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.collab.Settings.SetMiningMode(ctx, change); err != nil {
		return nil, err
	}
	after, err := r.collab.Settings.MiningConfig(ctx)
	if err != nil {
		return nil, err
	}

	r.publisher.Publish(events.New(events.MiningModeChanged, map[string]interface{}{
		"previous_mode": before.Mode.DisplayName(),
		"new_mode":      after.Mode.DisplayName(),
		"timestamp":     time.Now().Unix(),
	}))

	return map[string]interface{}{
		"success":              true,
		"message":              "Mining mode set to " + after.Mode.DisplayName(),
		"previous_mode":        before.Mode.DisplayName(),
		"mining_mode":          after.Mode.DisplayName(),
		"custom_max_cpu_usage": after.CustomMaxCPUUsage,
		"custom_max_gpu_usage": after.CustomMaxGPUUsage,
	}, nil
}

func (r *Registry) setMinerEnabled(kind, label string, set func(context.Context, bool) error) ToolHandler {
	key := kind + "_mining_enabled"
	return func(ctx context.Context, args Args) (interface{}, error) {
		enabled := boolArg(args, "enabled", false)
		if err := set(ctx, enabled); err != nil {
			return nil, err
		}

		r.publisher.Publish(events.New(events.AppConfigChanged, map[string]interface{}{
			"component": "mining",
			"changes":   map[string]interface{}{key: enabled},
		}))

		state := "disabled"
		if enabled {
			state = "enabled"
		}
		return map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("%s mining %s", label, state),
			key:       enabled,
		}, nil
	}
}

func (r *Registry) validateAddress(ctx context.Context, args Args) (interface{}, error) {
	address := stringArg(args, "address", "")
	method := host.SendingMethod(stringArg(args, "sending_method", string(host.OneSided)))

	v, err := r.collab.Wallet.ValidateAddress(ctx, address, method)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"valid":          v.Valid,
		"address":        address,
		"sending_method": string(method),
	}
	if v.Valid {
		out["message"] = "Address is valid"
		if v.Network != "" {
			out["network"] = v.Network
		}
	} else {
		out["error"] = v.Message
	}
	return out, nil
}

func checkTransfer(args Args) []mcperrors.FieldError {
	var fields []mcperrors.FieldError
	if _, err := ParseAmount(stringArg(args, "amount", "")); err != nil {
		fields = append(fields, mcperrors.FieldError{Field: "amount", Message: err.Error()})
	}
	if strings.TrimSpace(stringArg(args, "destination", "")) == "" {
		fields = append(fields, mcperrors.FieldError{Field: "destination", Message: "destination is empty"})
	}
	return fields
}

func (r *Registry) sendTari(ctx context.Context, args Args) (interface{}, error) {
	amount, err := ParseAmount(stringArg(args, "amount", ""))
	if err != nil {
		return nil, err
	}
	destination := strings.TrimSpace(stringArg(args, "destination", ""))
	paymentID := stringArg(args, "payment_id", "")

	v, err := r.collab.Wallet.ValidateAddress(ctx, destination, host.OneSided)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, fmt.Errorf("%w: %s", host.ErrInvalidAddress, v.Message)
	}

	res, err := r.collab.Wallet.Send(ctx, host.Transfer{
		Amount:      amount,
		Destination: destination,
		PaymentID:   paymentID,
	})
	if err != nil {
		return nil, fmt.Errorf("transaction failed: %w", err)
	}

	r.publisher.Publish(events.New(events.WalletTransactionUpdate, map[string]interface{}{
		"tx_id":     res.TxID,
		"direction": string(host.Outbound),
		"amount":    FormatAmount(amount),
		"status":    "pending",
		"timestamp": time.Now().Unix(),
	}))

	out := map[string]interface{}{
		"success":      true,
		"tx_id":        res.TxID,
		"amount":       FormatAmount(amount),
		"amount_micro": amount,
		"destination":  destination,
		"payment_id":   nil,
	}
	if paymentID != "" {
		out["payment_id"] = paymentID
	}
	return out, nil
}

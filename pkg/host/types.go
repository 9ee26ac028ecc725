// Package host defines the collaborators the MCP server mediates access to:
// the wallet, the CPU and GPU miners, the mining settings store, the base
// node, P2Pool, hardware probing and general application state.
//
// Amounts are in micro tXTR.
package host

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Balance is the wallet balance
type Balance struct {
	Available       uint64
	Timelocked      uint64
	PendingIncoming uint64
	PendingOutgoing uint64
}

// Total returns the sum of all balance buckets that will eventually be
// spendable.
func (b Balance) Total() uint64 {
	return b.Available + b.Timelocked + b.PendingIncoming
}

// WalletAddress is the wallet's receiving address
type WalletAddress struct {
	Base58   string
	Emoji    string
	Network  string
	Features []string
}

// Direction of a transaction relative to this wallet
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Transaction is a wallet transaction
type Transaction struct {
	TxID          string
	SourceAddress string
	DestAddress   string
	Status        string
	Direction     Direction
	Amount        uint64
	Fee           uint64
	Timestamp     time.Time
	PaymentID     string
	Cancelled     bool
	MinedHeight   uint64
}

// MinerStatus is the live status of one miner
type MinerStatus struct {
	IsMining          bool
	HashRate          float64
	EstimatedEarnings uint64
	IsConnected       bool
}

// MiningMode selects the miners' resource usage
type MiningMode string

const (
	ModeEco        MiningMode = "eco"
	ModeAggressive MiningMode = "aggressive"
	ModeCustom     MiningMode = "custom"
)

var modeAliases = map[string]MiningMode{
	"eco":        ModeEco,
	"aggressive": ModeAggressive,
	"ludicrous":  ModeAggressive,
	"custom":     ModeCustom,
}

// ParseMiningMode parses a mode name case-insensitively. "ludicrous" is
// accepted as an alias of aggressive.
func ParseMiningMode(s string) (MiningMode, bool) {
	m, ok := modeAliases[strings.ToLower(strings.TrimSpace(s))]
	return m, ok
}

// DisplayName is the name shown in the desktop application
func (m MiningMode) DisplayName() string {
	if m == ModeAggressive {
		return "Ludicrous"
	}
	// a Caser keeps state between calls and cannot be shared
	return cases.Title(language.English).String(string(m))
}

// MiningConfig is the persisted mining configuration
type MiningConfig struct {
	CPUMiningEnabled  bool
	GPUMiningEnabled  bool
	Mode              MiningMode
	MineOnAppStart    bool
	CustomMaxCPUUsage int
	CustomMaxGPUUsage int
	GPUEngine         string
	MiningTime        time.Duration
}

// ModeChange is a request to switch mining mode. Nil usages keep the
// configured value.
type ModeChange struct {
	Mode           MiningMode
	CustomCPUUsage *int
	CustomGPUUsage *int
}

// AppSettings are the user-facing application settings
type AppSettings struct {
	Network            string
	UseTor             bool
	P2PoolEnabled      bool
	NodeType           string
	AutoUpdate         bool
	AllowTelemetry     bool
	AllowNotifications bool
	ShouldAutoLaunch   bool
	PreRelease         bool
}

// GPUDevice is one detected GPU
type GPUDevice struct {
	Name       string
	Index      int
	MaxThreads int
}

// HardwareInfo describes detected mining hardware
type HardwareInfo struct {
	CPUMaxThreads       int
	CPUAvailableThreads int
	GPUs                []GPUDevice
}

// P2PoolStats are P2Pool statistics
type P2PoolStats struct {
	Connected     bool
	PeerID        string
	Squad         string
	RandomXHeight uint64
	SHA3xHeight   uint64
}

// AppState is general application state
type AppState struct {
	Version          string
	AirdropURL       string
	IsUniversalMiner bool
	MinerType        string
}

// NodeStatus is the base node status
type NodeStatus struct {
	Connected   bool
	BlockHeight uint64
	BlockTime   time.Time
	PeerCount   int
	Synced      bool
	SyncStatus  string
}

// NetworkInfo describes the node's network configuration
type NetworkInfo struct {
	Network       string
	UseTor        bool
	P2PoolEnabled bool
	NodeType      string
	TorConnected  bool
}

// Dependency is an external program the application relies on
type Dependency struct {
	Name      string
	Version   string
	Required  bool
	Satisfied bool
}

// SendingMethod selects how a transfer is delivered
type SendingMethod string

const (
	Interactive SendingMethod = "interactive"
	OneSided    SendingMethod = "one_sided"
)

// AddressValidation is the result of checking a destination address
type AddressValidation struct {
	Valid   bool
	Network string
	Message string
}

// Transfer is an outgoing payment
type Transfer struct {
	Amount      uint64
	Destination string
	PaymentID   string
}

// TransferResult identifies a submitted transfer
type TransferResult struct {
	TxID string
}

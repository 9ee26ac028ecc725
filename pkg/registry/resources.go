package registry

import (
	"context"
	"time"

	"github.com/fluffypony/universe/pkg/host"
)

// FormattedBalance is the wallet balance rendered for display
type FormattedBalance struct {
	Available       string `json:"available"`
	Timelocked      string `json:"timelocked"`
	PendingIncoming string `json:"pending_incoming"`
	PendingOutgoing string `json:"pending_outgoing"`
}

// WalletBalanceDoc is the wallet_balance document
type WalletBalanceDoc struct {
	AvailableBalance       uint64           `json:"available_balance"`
	TimelockedBalance      uint64           `json:"timelocked_balance"`
	PendingIncomingBalance uint64           `json:"pending_incoming_balance"`
	PendingOutgoingBalance uint64           `json:"pending_outgoing_balance"`
	BalanceFormatted       FormattedBalance `json:"balance_formatted"`
	Error                  string           `json:"error,omitempty"`
}

// WalletAddressDoc is the wallet_address document
type WalletAddressDoc struct {
	AddressBase58 string   `json:"address_base58"`
	AddressEmoji  string   `json:"address_emoji"`
	Network       string   `json:"network"`
	Features      []string `json:"features"`
}

// TransactionDoc is one entry of transaction_history
type TransactionDoc struct {
	TxID            string `json:"tx_id"`
	SourceAddress   string `json:"source_address"`
	DestAddress     string `json:"dest_address"`
	Status          string `json:"status"`
	Direction       string `json:"direction"`
	Amount          uint64 `json:"amount"`
	AmountFormatted string `json:"amount_formatted"`
	Fee             uint64 `json:"fee"`
	FeeFormatted    string `json:"fee_formatted"`
	Timestamp       int64  `json:"timestamp"`
	PaymentID       string `json:"payment_id"`
	Cancelled       bool   `json:"cancelled"`
}

// TransactionHistoryDoc is the transaction_history document
type TransactionHistoryDoc struct {
	Transactions []TransactionDoc `json:"transactions"`
	Count        int              `json:"count"`
}

// CoinbaseDoc is one entry of coinbase_transactions
type CoinbaseDoc struct {
	TxID            string `json:"tx_id"`
	SourceAddress   string `json:"source_address"`
	DestAddress     string `json:"dest_address"`
	Status          string `json:"status"`
	Amount          uint64 `json:"amount"`
	AmountFormatted string `json:"amount_formatted"`
	Fee             uint64 `json:"fee"`
	FeeFormatted    string `json:"fee_formatted"`
	Timestamp       int64  `json:"timestamp"`
	PaymentID       string `json:"payment_id"`
	MinedHeight     uint64 `json:"mined_height"`
}

// CoinbaseHistoryDoc is the coinbase_transactions document
type CoinbaseHistoryDoc struct {
	CoinbaseTransactions []CoinbaseDoc `json:"coinbase_transactions"`
	Count                int           `json:"count"`
	TotalMined           uint64        `json:"total_mined"`
}

// MinerDoc is the status of one miner as reported by the collaborator
type MinerDoc struct {
	IsMining          bool    `json:"is_mining"`
	HashRate          float64 `json:"hash_rate"`
	EstimatedEarnings uint64  `json:"estimated_earnings"`
	IsConnected       bool    `json:"is_connected"`
}

// OverallMiningDoc sums both miners
type OverallMiningDoc struct {
	AnyMining              bool    `json:"any_mining"`
	TotalHashRate          float64 `json:"total_hash_rate"`
	TotalEstimatedEarnings uint64  `json:"total_estimated_earnings"`
}

// MiningStatusDoc is the mining_status document
type MiningStatusDoc struct {
	CPUMining MinerDoc         `json:"cpu_mining"`
	GPUMining MinerDoc         `json:"gpu_mining"`
	Overall   OverallMiningDoc `json:"overall"`
}

// MiningConfigDoc is the mining_config document
type MiningConfigDoc struct {
	CPUMiningEnabled  bool   `json:"cpu_mining_enabled"`
	GPUMiningEnabled  bool   `json:"gpu_mining_enabled"`
	MiningMode        string `json:"mining_mode"`
	MineOnAppStart    bool   `json:"mine_on_app_start"`
	CustomMaxCPUUsage int    `json:"custom_max_cpu_usage"`
	CustomMaxGPUUsage int    `json:"custom_max_gpu_usage"`
	GPUEngine         string `json:"gpu_engine"`
	MiningTimeMs      int64  `json:"mining_time_ms"`
}

// GPUDeviceDoc describes one GPU
type GPUDeviceDoc struct {
	DeviceName  string `json:"device_name"`
	DeviceIndex int    `json:"device_index"`
	MaxThreads  int    `json:"max_threads"`
}

// HardwareInfoDoc is the hardware_info document
type HardwareInfoDoc struct {
	CPU struct {
		MaxThreads       int `json:"max_threads"`
		AvailableThreads int `json:"available_threads"`
	} `json:"cpu"`
	GPU struct {
		Devices     []GPUDeviceDoc `json:"devices"`
		DeviceCount int            `json:"device_count"`
		Available   bool           `json:"available"`
	} `json:"gpu"`
}

// ChainHeightDoc holds a per-algorithm share chain height
type ChainHeightDoc struct {
	Height uint64 `json:"height"`
}

// P2PoolStatsBody is the stats object of p2pool_stats
type P2PoolStatsBody struct {
	Connected    bool           `json:"connected"`
	PeerID       string         `json:"peer_id"`
	Squad        string         `json:"squad"`
	RandomXStats ChainHeightDoc `json:"randomx_stats"`
	SHA3xStats   ChainHeightDoc `json:"sha3x_stats"`
}

// P2PoolStatsDoc is the p2pool_stats document
type P2PoolStatsDoc struct {
	IsEnabled bool             `json:"is_enabled"`
	Stats     *P2PoolStatsBody `json:"stats"`
	Message   string           `json:"message,omitempty"`
}

// AppStateDoc is the app_state document
type AppStateDoc struct {
	Version          string `json:"version"`
	AirdropURL       string `json:"airdrop_url"`
	IsUniversalMiner bool   `json:"is_universal_miner"`
	MinerType        string `json:"miner_type"`
}

// NodeStatusDoc is the node_status document
type NodeStatusDoc struct {
	IsConnected bool   `json:"is_connected"`
	BlockHeight uint64 `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
	PeerCount   int    `json:"peer_count"`
	IsSynced    bool   `json:"is_synced"`
	SyncStatus  string `json:"sync_status"`
}

// ConnectionStatusDoc is the connection section of network_stats
type ConnectionStatusDoc struct {
	BaseNodeConnected  bool   `json:"base_node_connected"`
	PeerCount          int    `json:"peer_count"`
	CurrentBlockHeight uint64 `json:"current_block_height"`
	TorConnected       bool   `json:"tor_connected"`
}

// NetworkStatsDoc is the network_stats document
type NetworkStatsDoc struct {
	Network          string              `json:"network"`
	UseTor           bool                `json:"use_tor"`
	P2PoolEnabled    bool                `json:"p2pool_enabled"`
	NodeType         string              `json:"node_type"`
	ConnectionStatus ConnectionStatusDoc `json:"connection_status"`
}

// DependencyDoc describes one external dependency
type DependencyDoc struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Required  bool   `json:"required"`
	Satisfied bool   `json:"satisfied"`
}

// DependenciesDoc is the external_dependencies document
type DependenciesDoc struct {
	Status       string          `json:"status"`
	Dependencies []DependencyDoc `json:"dependencies"`
	AllSatisfied bool            `json:"all_satisfied"`
}

func (r *Registry) resourceCatalog() []*Resource {
	c := r.collab
	return []*Resource{
		{
			name:        ResWalletBalance,
			description: "Current wallet balance including available, timelocked, and pending amounts",
			read: func(ctx context.Context) (interface{}, error) {
				b, err := c.Wallet.Balance(ctx)
				if err != nil {
					return nil, err
				}
				if b == nil {
					doc := balanceDoc(host.Balance{})
					doc.Error = "Wallet balance not available"
					return doc, nil
				}
				return balanceDoc(*b), nil
			},
		},
		{
			name:        ResWalletAddress,
			description: "Current wallet address in Base58 and emoji formats",
			read: func(ctx context.Context) (interface{}, error) {
				a, err := c.Wallet.Address(ctx)
				if err != nil {
					return nil, err
				}
				features := a.Features
				if features == nil {
					features = []string{}
				}
				return WalletAddressDoc{
					AddressBase58: a.Base58,
					AddressEmoji:  a.Emoji,
					Network:       a.Network,
					Features:      features,
				}, nil
			},
		},
		{
			name:        ResTransactionHistory,
			description: "Recent transaction history (last 20 transactions)",
			read: func(ctx context.Context) (interface{}, error) {
				txs, err := c.Wallet.Transactions(ctx, recentTransactionLimit)
				if err != nil {
					return nil, err
				}
				docs := make([]TransactionDoc, 0, len(txs))
				for _, tx := range txs {
					docs = append(docs, TransactionDoc{
						TxID:            tx.TxID,
						SourceAddress:   tx.SourceAddress,
						DestAddress:     tx.DestAddress,
						Status:          tx.Status,
						Direction:       string(tx.Direction),
						Amount:          tx.Amount,
						AmountFormatted: FormatAmount(tx.Amount),
						Fee:             tx.Fee,
						FeeFormatted:    FormatAmount(tx.Fee),
						Timestamp:       unixOrZero(tx.Timestamp),
						PaymentID:       tx.PaymentID,
						Cancelled:       tx.Cancelled,
					})
				}
				return TransactionHistoryDoc{Transactions: docs, Count: len(docs)}, nil
			},
		},
		{
			name:        ResCoinbaseTransactions,
			description: "Recent coinbase transactions (mining rewards)",
			read: func(ctx context.Context) (interface{}, error) {
				txs, err := c.Wallet.CoinbaseTransactions(ctx, recentCoinbaseLimit)
				if err != nil {
					return nil, err
				}
				doc := CoinbaseHistoryDoc{CoinbaseTransactions: make([]CoinbaseDoc, 0, len(txs))}
				for _, tx := range txs {
					doc.CoinbaseTransactions = append(doc.CoinbaseTransactions, CoinbaseDoc{
						TxID:            tx.TxID,
						SourceAddress:   tx.SourceAddress,
						DestAddress:     tx.DestAddress,
						Status:          tx.Status,
						Amount:          tx.Amount,
						AmountFormatted: FormatAmount(tx.Amount),
						Fee:             tx.Fee,
						FeeFormatted:    FormatAmount(tx.Fee),
						Timestamp:       unixOrZero(tx.Timestamp),
						PaymentID:       tx.PaymentID,
						MinedHeight:     tx.MinedHeight,
					})
					doc.TotalMined += tx.Amount
				}
				doc.Count = len(doc.CoinbaseTransactions)
				return doc, nil
			},
		},
		{
			name:        ResMiningStatus,
			description: "Current mining status for CPU and GPU miners",
			read: func(ctx context.Context) (interface{}, error) {
				return r.miningStatus(ctx)
			},
		},
		{
			name:        ResMiningConfig,
			description: "Current mining configuration settings",
			read: func(ctx context.Context) (interface{}, error) {
				cfg, err := c.Settings.MiningConfig(ctx)
				if err != nil {
					return nil, err
				}
				return miningConfigDoc(cfg), nil
			},
		},
		{
			name:        ResHardwareInfo,
			description: "Available hardware information for mining (CPU and GPU)",
			read: func(ctx context.Context) (interface{}, error) {
				info, err := c.Hardware.Info(ctx)
				if err != nil {
					return nil, err
				}
				var doc HardwareInfoDoc
				doc.CPU.MaxThreads = info.CPUMaxThreads
				doc.CPU.AvailableThreads = info.CPUAvailableThreads
				doc.GPU.Devices = make([]GPUDeviceDoc, 0, len(info.GPUs))
				for _, g := range info.GPUs {
					doc.GPU.Devices = append(doc.GPU.Devices, GPUDeviceDoc{
						DeviceName:  g.Name,
						DeviceIndex: g.Index,
						MaxThreads:  g.MaxThreads,
					})
				}
				doc.GPU.DeviceCount = len(doc.GPU.Devices)
				doc.GPU.Available = doc.GPU.DeviceCount > 0
				return doc, nil
			},
		},
		{
			name:        ResP2PoolStats,
			description: "P2Pool mining statistics and status",
			read: func(ctx context.Context) (interface{}, error) {
				enabled, err := c.P2Pool.Enabled(ctx)
				if err != nil {
					return nil, err
				}
				stats, err := c.P2Pool.Stats(ctx)
				if err != nil {
					return nil, err
				}
				if stats == nil {
					return P2PoolStatsDoc{IsEnabled: false, Message: "P2Pool stats not available"}, nil
				}
				return P2PoolStatsDoc{
					IsEnabled: enabled,
					Stats: &P2PoolStatsBody{
						Connected:    stats.Connected,
						PeerID:       stats.PeerID,
						Squad:        stats.Squad,
						RandomXStats: ChainHeightDoc{Height: stats.RandomXHeight},
						SHA3xStats:   ChainHeightDoc{Height: stats.SHA3xHeight},
					},
				}, nil
			},
		},
		{
			name:        ResAppState,
			description: "Current application state and configuration",
			read: func(ctx context.Context) (interface{}, error) {
				st, err := c.App.State(ctx)
				if err != nil {
					return nil, err
				}
				return AppStateDoc{
					Version:          st.Version,
					AirdropURL:       st.AirdropURL,
					IsUniversalMiner: st.IsUniversalMiner,
					MinerType:        st.MinerType,
				}, nil
			},
		},
		{
			name:        ResNodeStatus,
			description: "Base node connectivity and synchronization status",
			read: func(ctx context.Context) (interface{}, error) {
				st, err := c.Node.Status(ctx)
				if err != nil {
					return nil, err
				}
				return nodeStatusDoc(st), nil
			},
		},
		{
			name:        ResNetworkStats,
			description: "Network configuration and connection statistics",
			read: func(ctx context.Context) (interface{}, error) {
				netInfo, err := c.Node.Network(ctx)
				if err != nil {
					return nil, err
				}
				st, err := c.Node.Status(ctx)
				if err != nil {
					return nil, err
				}
				return NetworkStatsDoc{
					Network:       netInfo.Network,
					UseTor:        netInfo.UseTor,
					P2PoolEnabled: netInfo.P2PoolEnabled,
					NodeType:      netInfo.NodeType,
					ConnectionStatus: ConnectionStatusDoc{
						BaseNodeConnected:  st.Connected,
						PeerCount:          st.PeerCount,
						CurrentBlockHeight: st.BlockHeight,
						TorConnected:       netInfo.TorConnected,
					},
				}, nil
			},
		},
		{
			name:        ResExternalDependencies,
			description: "Status of required external dependencies",
			read: func(ctx context.Context) (interface{}, error) {
				deps, err := c.App.Dependencies(ctx)
				if err != nil {
					return nil, err
				}
				doc := DependenciesDoc{Dependencies: make([]DependencyDoc, 0, len(deps)), AllSatisfied: true}
				for _, d := range deps {
					doc.Dependencies = append(doc.Dependencies, DependencyDoc(d))
					if d.Required && !d.Satisfied {
						doc.AllSatisfied = false
					}
				}
				doc.Status = "ok"
				if !doc.AllSatisfied {
					doc.Status = "missing"
				}
				return doc, nil
			},
		},
	}
}

func (r *Registry) miningStatus(ctx context.Context) (MiningStatusDoc, error) {
	cpu, err := r.collab.CPU.Status(ctx)
	if err != nil {
		return MiningStatusDoc{}, err
	}
	gpu, err := r.collab.GPU.Status(ctx)
	if err != nil {
		return MiningStatusDoc{}, err
	}
	return MiningStatusDoc{
		CPUMining: MinerDoc(cpu),
		GPUMining: MinerDoc(gpu),
		Overall: OverallMiningDoc{
			AnyMining:              cpu.IsMining || gpu.IsMining,
			TotalHashRate:          cpu.HashRate + gpu.HashRate,
			TotalEstimatedEarnings: cpu.EstimatedEarnings + gpu.EstimatedEarnings,
		},
	}, nil
}

func balanceDoc(b host.Balance) WalletBalanceDoc {
	return WalletBalanceDoc{
		AvailableBalance:       b.Available,
		TimelockedBalance:      b.Timelocked,
		PendingIncomingBalance: b.PendingIncoming,
		PendingOutgoingBalance: b.PendingOutgoing,
		BalanceFormatted: FormattedBalance{
			Available:       FormatAmount(b.Available),
			Timelocked:      FormatAmount(b.Timelocked),
			PendingIncoming: FormatAmount(b.PendingIncoming),
			PendingOutgoing: FormatAmount(b.PendingOutgoing),
		},
	}
}

func miningConfigDoc(cfg host.MiningConfig) MiningConfigDoc {
	return MiningConfigDoc{
		CPUMiningEnabled:  cfg.CPUMiningEnabled,
		GPUMiningEnabled:  cfg.GPUMiningEnabled,
		MiningMode:        cfg.Mode.DisplayName(),
		MineOnAppStart:    cfg.MineOnAppStart,
		CustomMaxCPUUsage: cfg.CustomMaxCPUUsage,
		CustomMaxGPUUsage: cfg.CustomMaxGPUUsage,
		GPUEngine:         cfg.GPUEngine,
		MiningTimeMs:      cfg.MiningTime.Milliseconds(),
	}
}

func nodeStatusDoc(st host.NodeStatus) NodeStatusDoc {
	sync := st.SyncStatus
	if sync == "" {
		sync = "syncing"
		if st.Synced {
			sync = "synced"
		}
	}
	return NodeStatusDoc{
		IsConnected: st.Connected,
		BlockHeight: st.BlockHeight,
		BlockTime:   unixOrZero(st.BlockTime),
		PeerCount:   st.PeerCount,
		IsSynced:    st.Synced,
		SyncStatus:  sync,
	}
}

// unixOrZero keeps zero times as zero rather than a large negative number
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

package registry

// ResourceName names a resource in the catalog
type ResourceName string

const (
	ResWalletBalance        ResourceName = "wallet_balance"
	ResWalletAddress        ResourceName = "wallet_address"
	ResTransactionHistory   ResourceName = "transaction_history"
	ResCoinbaseTransactions ResourceName = "coinbase_transactions"
	ResMiningStatus         ResourceName = "mining_status"
	ResMiningConfig         ResourceName = "mining_config"
	ResHardwareInfo         ResourceName = "hardware_info"
	ResP2PoolStats          ResourceName = "p2pool_stats"
	ResAppState             ResourceName = "app_state"
	ResNodeStatus           ResourceName = "node_status"
	ResNetworkStats         ResourceName = "network_stats"
	ResExternalDependencies ResourceName = "external_dependencies"
)

// ToolName names a tool in the catalog
type ToolName string

const (
	ToolStartCPUMining      ToolName = "start_cpu_mining"
	ToolStopCPUMining       ToolName = "stop_cpu_mining"
	ToolStartGPUMining      ToolName = "start_gpu_mining"
	ToolStopGPUMining       ToolName = "stop_gpu_mining"
	ToolSetMiningMode       ToolName = "set_mining_mode"
	ToolGetMiningConfig     ToolName = "get_mining_config"
	ToolSetCPUMiningEnabled ToolName = "set_cpu_mining_enabled"
	ToolSetGPUMiningEnabled ToolName = "set_gpu_mining_enabled"
	ToolGetAppSettings      ToolName = "get_app_settings"
	ToolValidateAddress     ToolName = "validate_address"
	ToolSendTari            ToolName = "send_tari"
)

// PromptName names a prompt template
type PromptName string

const (
	PromptMiningOptimization PromptName = "mining_optimization"
)

const (
	recentTransactionLimit = 20
	recentCoinbaseLimit    = 20
)

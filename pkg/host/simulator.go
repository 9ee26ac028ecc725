package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Operation names counted by the Simulator
const (
	OpWalletBalance      = "wallet.balance"
	OpWalletAddress      = "wallet.address"
	OpWalletTransactions = "wallet.transactions"
	OpWalletCoinbase     = "wallet.coinbase"
	OpWalletValidate     = "wallet.validate_address"
	OpWalletSend         = "wallet.send"
	OpCPUStatus          = "cpu.status"
	OpCPUStart           = "cpu.start"
	OpCPUStop            = "cpu.stop"
	OpGPUStatus          = "gpu.status"
	OpGPUStart           = "gpu.start"
	OpGPUStop            = "gpu.stop"
	OpSettingsMining     = "settings.mining_config"
	OpSettingsMode       = "settings.set_mode"
	OpSettingsCPUEnabled = "settings.set_cpu_enabled"
	OpSettingsGPUEnabled = "settings.set_gpu_enabled"
	OpSettingsApp        = "settings.app"
	OpNodeStatus         = "node.status"
	OpNodeNetwork        = "node.network"
	OpP2PoolEnabled      = "p2pool.enabled"
	OpP2PoolStats        = "p2pool.stats"
	OpHardwareInfo       = "hardware.info"
	OpAppState           = "app.state"
	OpAppDependencies    = "app.dependencies"
)

const (
	simulatedCPUHashRate  = 2_450.0
	simulatedGPUHashRate  = 96_000_000.0
	simulatedBlockSpacing = 2 * time.Minute
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Simulator is an in-memory host. It counts every collaborator call and can
// be told to fail specific operations, so tests can use it as a spy.
type Simulator struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error
	holds    map[string]*hold

	balance  Balance
	address  WalletAddress
	txs      []Transaction
	coinbase []Transaction
	sent     []Transfer
	nextTx   int

	cpu    MinerStatus
	gpu    MinerStatus
	mining MiningConfig
	app    AppSettings

	hardware      HardwareInfo
	p2poolEnabled bool
	p2pool        *P2PoolStats
	node          NodeStatus
	network       NetworkInfo
	state         AppState
	deps          []Dependency
}

// NewSimulator returns a simulator populated with a plausible idle host
func NewSimulator() *Simulator {
	now := time.Now().UTC()
	s := &Simulator{
		calls:    make(map[string]int),
		failures: make(map[string]error),
		holds:    make(map[string]*hold),
		balance: Balance{
			Available:       125_500_000,
			Timelocked:      4_000_000,
			PendingIncoming: 1_250_000,
		},
		address: WalletAddress{
			Base58:   "f4Fq7n3WTk9E6uK2Qb8tMmRz5XyVc1DhJpNs3aGwBeHo",
			Emoji:    "🐢🌊🍓🎸🚀🌵🎲🍄🐙🎯🌈🍩",
			Network:  "esmeralda",
			Features: []string{"interactive", "one_sided"},
		},
		mining: MiningConfig{
			CPUMiningEnabled:  true,
			GPUMiningEnabled:  true,
			Mode:              ModeEco,
			CustomMaxCPUUsage: 50,
			CustomMaxGPUUsage: 50,
			GPUEngine:         "OpenCL",
		},
		app: AppSettings{
			Network:            "esmeralda",
			P2PoolEnabled:      true,
			NodeType:           "local",
			AutoUpdate:         true,
			AllowNotifications: true,
		},
		hardware: HardwareInfo{
			CPUMaxThreads:       16,
			CPUAvailableThreads: 12,
			GPUs: []GPUDevice{
				{Name: "Simulated GPU 0", Index: 0, MaxThreads: 8192},
			},
		},
		p2poolEnabled: true,
		p2pool: &P2PoolStats{
			Connected:     true,
			PeerID:        "12D3KooWSimulatedPeer",
			Squad:         "squad_1",
			RandomXHeight: 48_211,
			SHA3xHeight:   48_209,
		},
		node: NodeStatus{
			Connected:   true,
			BlockHeight: 48_211,
			BlockTime:   now.Add(-simulatedBlockSpacing),
			PeerCount:   8,
			Synced:      true,
			SyncStatus:  "synced",
		},
		network: NetworkInfo{
			Network:       "esmeralda",
			P2PoolEnabled: true,
			NodeType:      "local",
		},
		state: AppState{
			Version:    "1.0.0",
			AirdropURL: "https://airdrop.tari.com",
			MinerType:  "universe",
		},
		deps: []Dependency{
			{Name: "tor", Version: "0.4.8", Required: false, Satisfied: true},
			{Name: "minotari_node", Version: "1.0.0", Required: true, Satisfied: true},
		},
	}

	for i := 0; i < 3; i++ {
		s.coinbase = append(s.coinbase, Transaction{
			TxID:        s.newTxID(),
			Status:      "mined_confirmed",
			Direction:   Inbound,
			Amount:      13_790_000,
			Timestamp:   now.Add(-time.Duration(i+1) * time.Hour),
			MinedHeight: s.node.BlockHeight - uint64(30*(i+1)),
		})
	}
	s.txs = append(s.txs, s.coinbase...)
	return s
}

// Collaborators returns the simulator's collaborator set
func (s *Simulator) Collaborators() Collaborators {
	return Collaborators{
		Wallet:   simWallet{s},
		CPU:      &simMiner{sim: s, kind: "cpu"},
		GPU:      &simMiner{sim: s, kind: "gpu"},
		Settings: simSettings{s},
		Node:     simNode{s},
		P2Pool:   simP2Pool{s},
		Hardware: simHardware{s},
		App:      simApp{s},
	}
}

// Calls returns how often op was invoked
func (s *Simulator) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of collaborator calls of any kind
func (s *Simulator) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Sent returns the transfers submitted so far
func (s *Simulator) Sent() []Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transfer(nil), s.sent...)
}

// Fail makes op return err until cleared with a nil err
func (s *Simulator) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

type hold struct {
	entered  chan struct{}
	released chan struct{}
	enter    sync.Once
	release  sync.Once
}

// Hold parks every call of op until release is called. entered is closed
// when the first call arrives. The simulator stays usable for other
// operations while a call is parked.
func (s *Simulator) Hold(op string) (entered <-chan struct{}, release func()) {
	h := &hold{entered: make(chan struct{}), released: make(chan struct{})}
	s.mu.Lock()
	s.holds[op] = h
	s.mu.Unlock()
	return h.entered, func() {
		s.mu.Lock()
		if s.holds[op] == h {
			delete(s.holds, op)
		}
		s.mu.Unlock()
		h.release.Do(func() { close(h.released) })
	}
}

// SetBalance replaces the wallet balance
func (s *Simulator) SetBalance(b Balance) {
	s.mu.Lock()
	s.balance = b
	s.mu.Unlock()
}

// SetMinerStatus replaces the status of the "cpu" or "gpu" miner
func (s *Simulator) SetMinerStatus(kind string, st MinerStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.miner(kind) = st
}

// SetP2Pool replaces the pool state; nil stats means not running
func (s *Simulator) SetP2Pool(enabled bool, stats *P2PoolStats) {
	s.mu.Lock()
	s.p2poolEnabled = enabled
	s.p2pool = stats
	s.mu.Unlock()
}

// enter counts op and returns its injected failure, if any. Callers hold
// mu; it is released while the call is parked by Hold.
func (s *Simulator) enter(op string) error {
	s.calls[op]++
	if h := s.holds[op]; h != nil {
		h.enter.Do(func() { close(h.entered) })
		s.mu.Unlock()
		<-h.released
		s.mu.Lock()
	}
	return s.failures[op]
}

func (s *Simulator) miner(kind string) *MinerStatus {
	if kind == "gpu" {
		return &s.gpu
	}
	return &s.cpu
}

func (s *Simulator) newTxID() string {
	s.nextTx++
	return fmt.Sprintf("%d", 7_000_000+s.nextTx)
}

func isValidAddress(addr string) bool {
	if len(addr) < 32 || len(addr) > 128 {
		return false
	}
	for _, r := range addr {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

type simWallet struct{ s *Simulator }

func (w simWallet) Balance(context.Context) (*Balance, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if err := w.s.enter(OpWalletBalance); err != nil {
		return nil, err
	}
	b := w.s.balance
	return &b, nil
}

func (w simWallet) Address(context.Context) (*WalletAddress, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if err := w.s.enter(OpWalletAddress); err != nil {
		return nil, err
	}
	a := w.s.address
	a.Features = append([]string(nil), a.Features...)
	return &a, nil
}

func (w simWallet) Transactions(_ context.Context, limit int) ([]Transaction, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if err := w.s.enter(OpWalletTransactions); err != nil {
		return nil, err
	}
	return newestFirst(w.s.txs, limit), nil
}

func (w simWallet) CoinbaseTransactions(_ context.Context, limit int) ([]Transaction, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if err := w.s.enter(OpWalletCoinbase); err != nil {
		return nil, err
	}
	return newestFirst(w.s.coinbase, limit), nil
}

func newestFirst(txs []Transaction, limit int) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, txs[i])
	}
	return out
}

func (w simWallet) ValidateAddress(_ context.Context, address string, _ SendingMethod) (*AddressValidation, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if err := w.s.enter(OpWalletValidate); err != nil {
		return nil, err
	}
	if !isValidAddress(address) {
		return &AddressValidation{Valid: false, Message: "address is not a valid Tari address"}, nil
	}
	return &AddressValidation{Valid: true, Network: w.s.address.Network, Message: "address is valid"}, nil
}

func (w simWallet) Send(_ context.Context, t Transfer) (*TransferResult, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	if err := w.s.enter(OpWalletSend); err != nil {
		return nil, err
	}
	if !isValidAddress(t.Destination) {
		return nil, ErrInvalidAddress
	}
	if t.Amount > w.s.balance.Available {
		return nil, ErrInsufficientFunds
	}

	w.s.balance.Available -= t.Amount
	w.s.balance.PendingOutgoing += t.Amount
	w.s.sent = append(w.s.sent, t)

	tx := Transaction{
		TxID:          w.s.newTxID(),
		SourceAddress: w.s.address.Base58,
		DestAddress:   t.Destination,
		Status:        "pending",
		Direction:     Outbound,
		Amount:        t.Amount,
		Timestamp:     time.Now().UTC(),
		PaymentID:     t.PaymentID,
	}
	w.s.txs = append(w.s.txs, tx)
	return &TransferResult{TxID: tx.TxID}, nil
}

type simMiner struct {
	sim  *Simulator
	kind string
}

func (m *simMiner) Status(context.Context) (MinerStatus, error) {
	m.sim.mu.Lock()
	defer m.sim.mu.Unlock()
	if err := m.sim.enter(m.kind + ".status"); err != nil {
		return MinerStatus{}, err
	}
	return *m.sim.miner(m.kind), nil
}

func (m *simMiner) Start(context.Context) error {
	m.sim.mu.Lock()
	defer m.sim.mu.Unlock()
	if err := m.sim.enter(m.kind + ".start"); err != nil {
		return err
	}
	rate := simulatedCPUHashRate
	if m.kind == "gpu" {
		rate = simulatedGPUHashRate
	}
	*m.sim.miner(m.kind) = MinerStatus{
		IsMining:          true,
		HashRate:          rate,
		EstimatedEarnings: 1_250_000,
		IsConnected:       true,
	}
	return nil
}

func (m *simMiner) Stop(context.Context) error {
	m.sim.mu.Lock()
	defer m.sim.mu.Unlock()
	if err := m.sim.enter(m.kind + ".stop"); err != nil {
		return err
	}
	st := m.sim.miner(m.kind)
	st.IsMining = false
	st.HashRate = 0
	st.EstimatedEarnings = 0
	return nil
}

type simSettings struct{ s *Simulator }

func (c simSettings) MiningConfig(context.Context) (MiningConfig, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.enter(OpSettingsMining); err != nil {
		return MiningConfig{}, err
	}
	return c.s.mining, nil
}

func (c simSettings) SetMiningMode(_ context.Context, change ModeChange) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.enter(OpSettingsMode); err != nil {
		return err
	}
	c.s.mining.Mode = change.Mode
	if change.CustomCPUUsage != nil {
		c.s.mining.CustomMaxCPUUsage = *change.CustomCPUUsage
	}
	if change.CustomGPUUsage != nil {
		c.s.mining.CustomMaxGPUUsage = *change.CustomGPUUsage
	}
	return nil
}

func (c simSettings) SetCPUMiningEnabled(_ context.Context, enabled bool) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.enter(OpSettingsCPUEnabled); err != nil {
		return err
	}
	c.s.mining.CPUMiningEnabled = enabled
	return nil
}

func (c simSettings) SetGPUMiningEnabled(_ context.Context, enabled bool) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.enter(OpSettingsGPUEnabled); err != nil {
		return err
	}
	c.s.mining.GPUMiningEnabled = enabled
	return nil
}

func (c simSettings) AppSettings(context.Context) (AppSettings, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.enter(OpSettingsApp); err != nil {
		return AppSettings{}, err
	}
	return c.s.app, nil
}

type simNode struct{ s *Simulator }

func (n simNode) Status(context.Context) (NodeStatus, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if err := n.s.enter(OpNodeStatus); err != nil {
		return NodeStatus{}, err
	}
	return n.s.node, nil
}

func (n simNode) Network(context.Context) (NetworkInfo, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if err := n.s.enter(OpNodeNetwork); err != nil {
		return NetworkInfo{}, err
	}
	return n.s.network, nil
}

type simP2Pool struct{ s *Simulator }

func (p simP2Pool) Enabled(context.Context) (bool, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if err := p.s.enter(OpP2PoolEnabled); err != nil {
		return false, err
	}
	return p.s.p2poolEnabled, nil
}

func (p simP2Pool) Stats(context.Context) (*P2PoolStats, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if err := p.s.enter(OpP2PoolStats); err != nil {
		return nil, err
	}
	if p.s.p2pool == nil {
		return nil, nil
	}
	st := *p.s.p2pool
	return &st, nil
}

type simHardware struct{ s *Simulator }

func (h simHardware) Info(context.Context) (HardwareInfo, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if err := h.s.enter(OpHardwareInfo); err != nil {
		return HardwareInfo{}, err
	}
	info := h.s.hardware
	info.GPUs = append([]GPUDevice(nil), info.GPUs...)
	return info, nil
}

type simApp struct{ s *Simulator }

func (a simApp) State(context.Context) (AppState, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.enter(OpAppState); err != nil {
		return AppState{}, err
	}
	return a.s.state, nil
}

func (a simApp) Dependencies(context.Context) ([]Dependency, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.enter(OpAppDependencies); err != nil {
		return nil, err
	}
	return append([]Dependency(nil), a.s.deps...), nil
}

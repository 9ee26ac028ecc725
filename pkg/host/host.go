package host

import (
	"context"
	"errors"
)

// Wallet is the wallet manager
type Wallet interface {
	Balance(ctx context.Context) (*Balance, error)
	Address(ctx context.Context) (*WalletAddress, error)
	Transactions(ctx context.Context, limit int) ([]Transaction, error)
	CoinbaseTransactions(ctx context.Context, limit int) ([]Transaction, error)
	ValidateAddress(ctx context.Context, address string, method SendingMethod) (*AddressValidation, error)
	Send(ctx context.Context, t Transfer) (*TransferResult, error)
}

// Miner controls one mining backend
type Miner interface {
	Status(ctx context.Context) (MinerStatus, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Settings is the persisted configuration store
type Settings interface {
	MiningConfig(ctx context.Context) (MiningConfig, error)
	SetMiningMode(ctx context.Context, change ModeChange) error
	SetCPUMiningEnabled(ctx context.Context, enabled bool) error
	SetGPUMiningEnabled(ctx context.Context, enabled bool) error
	AppSettings(ctx context.Context) (AppSettings, error)
}

// Node reports base node state
type Node interface {
	Status(ctx context.Context) (NodeStatus, error)
	Network(ctx context.Context) (NetworkInfo, error)
}

// P2Pool reports pool statistics. Stats returns nil when the pool is not
// running.
type P2Pool interface {
	Enabled(ctx context.Context) (bool, error)
	Stats(ctx context.Context) (*P2PoolStats, error)
}

// Hardware reports detected hardware
type Hardware interface {
	Info(ctx context.Context) (HardwareInfo, error)
}

// App reports application state
type App interface {
	State(ctx context.Context) (AppState, error)
	Dependencies(ctx context.Context) ([]Dependency, error)
}

// Collaborators bundles every collaborator the server talks to
type Collaborators struct {
	Wallet   Wallet
	CPU      Miner
	GPU      Miner
	Settings Settings
	Node     Node
	P2Pool   P2Pool
	Hardware Hardware
	App      App
}

// Validate checks that every collaborator is set
func (c Collaborators) Validate() error {
	var missing []error
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, errors.New("missing collaborator: "+name))
		}
	}
	check("wallet", c.Wallet != nil)
	check("cpu miner", c.CPU != nil)
	check("gpu miner", c.GPU != nil)
	check("settings", c.Settings != nil)
	check("node", c.Node != nil)
	check("p2pool", c.P2Pool != nil)
	check("hardware", c.Hardware != nil)
	check("app", c.App != nil)
	return errors.Join(missing...)
}

// Sentinel errors a collaborator may return
var (
	ErrUnavailable       = errors.New("collaborator unavailable")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// RetryableError marks a collaborator error as transient
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }

func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable reports true
func (e *RetryableError) Retryable() bool { return true }

// Retryable wraps err so callers may retry it
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

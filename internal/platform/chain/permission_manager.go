package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	cfgpkg "github.com/orchardpay/biller/pkg/config"
	"github.com/orchardpay/biller/pkg/permit"
)

// Backend is the surface the charge executor needs from the chain. Tests
// substitute a fake; production uses the PermissionManager client below.
type Backend interface {
	// ApproveWithSignature registers the signed permission with the on-chain
	// manager. Re-approving an already-approved permission is a no-op on the
	// contract side, so this call is always safe to repeat.
	ApproveWithSignature(ctx context.Context, p permit.SpendPermission, signature []byte) (common.Hash, error)
	// Spend transfers amount (token base units) under the permission via the
	// executor identity. Reverts if the period's remaining allowance is
	// insufficient or the permission window has closed.
	Spend(ctx context.Context, p permit.SpendPermission, amount *big.Int) (common.Hash, error)
	// WaitConfirmed blocks until the transaction has a block inclusion with a
	// successful status, or fails after the configured confirmation timeout.
	// It never cancels a broadcast transaction; giving up only stops waiting.
	WaitConfirmed(ctx context.Context, txHash common.Hash) error
	// PermissionHash asks the verifier contract for its struct hash, used to
	// cross-check the local typed-data encoding.
	PermissionHash(ctx context.Context, p permit.SpendPermission) (common.Hash, error)
}

const permissionManagerABI = `[
  {"type":"function","name":"approveWithSignature","stateMutability":"nonpayable","inputs":[
    {"name":"spendPermission","type":"tuple","components":[
      {"name":"account","type":"address"},
      {"name":"spender","type":"address"},
      {"name":"token","type":"address"},
      {"name":"allowance","type":"uint160"},
      {"name":"period","type":"uint48"},
      {"name":"start","type":"uint48"},
      {"name":"end","type":"uint48"},
      {"name":"salt","type":"uint256"},
      {"name":"extraData","type":"bytes"}]},
    {"name":"signature","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"spend","stateMutability":"nonpayable","inputs":[
    {"name":"spendPermission","type":"tuple","components":[
      {"name":"account","type":"address"},
      {"name":"spender","type":"address"},
      {"name":"token","type":"address"},
      {"name":"allowance","type":"uint160"},
      {"name":"period","type":"uint48"},
      {"name":"start","type":"uint48"},
      {"name":"end","type":"uint48"},
      {"name":"salt","type":"uint256"},
      {"name":"extraData","type":"bytes"}]},
    {"name":"value","type":"uint160"}],"outputs":[]},
  {"type":"function","name":"getPermissionHash","stateMutability":"view","inputs":[
    {"name":"spendPermission","type":"tuple","components":[
      {"name":"account","type":"address"},
      {"name":"spender","type":"address"},
      {"name":"token","type":"address"},
      {"name":"allowance","type":"uint160"},
      {"name":"period","type":"uint48"},
      {"name":"start","type":"uint48"},
      {"name":"end","type":"uint48"},
      {"name":"salt","type":"uint256"},
      {"name":"extraData","type":"bytes"}]}],
    "outputs":[{"name":"","type":"bytes32"}]}
]`

// permissionTuple matches the ABI tuple component names so go-ethereum can
// pack it.
type permissionTuple struct {
	Account   common.Address
	Spender   common.Address
	Token     common.Address
	Allowance *big.Int
	Period    *big.Int
	Start     *big.Int
	End       *big.Int
	Salt      *big.Int
	ExtraData []byte
}

func toTuple(p permit.SpendPermission) permissionTuple {
	return permissionTuple{
		Account:   p.Account,
		Spender:   p.Spender,
		Token:     p.Token,
		Allowance: p.Allowance,
		Period:    new(big.Int).SetUint64(p.Period),
		Start:     new(big.Int).SetUint64(p.Start),
		End:       new(big.Int).SetUint64(p.End),
		Salt:      p.Salt,
		ExtraData: p.ExtraData,
	}
}

// PermissionManager talks to the on-chain spend-permission contract.
type PermissionManager struct {
	client         *ethclient.Client
	contract       *bind.BoundContract
	signer         *Signer
	log            *zap.SugaredLogger
	confirmTimeout time.Duration

	// submitMu serializes submissions from the shared executor identity so
	// concurrent charge attempts cannot interleave its nonce sequence.
	submitMu sync.Mutex
}

func NewPermissionManager(cfg *cfgpkg.Config, signer *Signer, log *zap.SugaredLogger) (*PermissionManager, error) {
	if cfg.Chain.RPCURL == "" {
		return nil, fmt.Errorf("chain.rpc_url is empty")
	}
	if !common.IsHexAddress(cfg.Chain.PermissionManager) {
		return nil, fmt.Errorf("invalid chain.permission_manager address: %q", cfg.Chain.PermissionManager)
	}
	client, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(permissionManagerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse permission manager abi: %w", err)
	}
	addr := common.HexToAddress(cfg.Chain.PermissionManager)
	return &PermissionManager{
		client:         client,
		contract:       bind.NewBoundContract(addr, parsed, client, client, client),
		signer:         signer,
		log:            log,
		confirmTimeout: cfg.Chain.ConfirmTimeout,
	}, nil
}

func (m *PermissionManager) Close() {
	m.client.Close()
}

func (m *PermissionManager) submit(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	m.submitMu.Lock()
	defer m.submitMu.Unlock()

	opts, err := m.signer.TransactOpts()
	if err != nil {
		return common.Hash{}, err
	}
	opts.Context = ctx
	tx, err := m.contract.Transact(opts, method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit %s: %w", method, err)
	}
	m.log.Infow("submitted chain transaction", "method", method, "tx", tx.Hash().Hex(), "nonce", tx.Nonce())
	return tx.Hash(), nil
}

func (m *PermissionManager) ApproveWithSignature(ctx context.Context, p permit.SpendPermission, signature []byte) (common.Hash, error) {
	return m.submit(ctx, "approveWithSignature", toTuple(p), signature)
}

func (m *PermissionManager) Spend(ctx context.Context, p permit.SpendPermission, amount *big.Int) (common.Hash, error) {
	return m.submit(ctx, "spend", toTuple(p), amount)
}

// WaitConfirmed polls for the receipt until inclusion or timeout. A reverted
// receipt is a failure: the transaction landed but had no economic effect.
func (m *PermissionManager) WaitConfirmed(ctx context.Context, txHash common.Hash) error {
	waitCtx, cancel := context.WithTimeout(ctx, m.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := m.client.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted in block %d", txHash.Hex(), receipt.BlockNumber)
			}
			return nil
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("timed out waiting for confirmation of %s: %w", txHash.Hex(), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (m *PermissionManager) PermissionHash(ctx context.Context, p permit.SpendPermission) (common.Hash, error) {
	var out []interface{}
	if err := m.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getPermissionHash", toTuple(p)); err != nil {
		return common.Hash{}, fmt.Errorf("failed to call getPermissionHash: %w", err)
	}
	if len(out) != 1 {
		return common.Hash{}, fmt.Errorf("unexpected getPermissionHash output arity: %d", len(out))
	}
	raw, ok := out[0].([32]byte)
	if !ok {
		return common.Hash{}, fmt.Errorf("unexpected getPermissionHash output type %T", out[0])
	}
	return common.Hash(raw), nil
}

package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	cfgpkg "github.com/orchardpay/biller/pkg/config"
)

// Signer is the executor identity: the single server-controlled wallet that
// submits approve/spend transactions for every subscription. It is injected
// as a capability, never reached through global state. Nonce assignment
// happens inside the serialized submission path of the contract client, so
// the identity's transaction ordering stays monotonic.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

func NewSigner(cfg *cfgpkg.Config) (*Signer, error) {
	raw := strings.TrimPrefix(cfg.Chain.ExecutorKey, "0x")
	if raw == "" {
		return nil, fmt.Errorf("chain.executor_key is empty")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse executor key: %w", err)
	}
	if cfg.Chain.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain.chain_id: %d", cfg.Chain.ChainID)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(cfg.Chain.ChainID),
	}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// TransactOpts returns fresh signing options; the nonce is left unset so the
// RPC node assigns the next pending nonce at submission time.
func (s *Signer) TransactOpts() (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transact opts: %w", err)
	}
	return opts, nil
}

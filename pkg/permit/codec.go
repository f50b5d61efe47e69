package permit

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/orchardpay/biller/pkg/types"
)

var (
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrInvalidPeriod   = errors.New("unsupported billing period")
)

var (
	maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
	maxUint48  = uint64(1)<<48 - 1
)

// primaryType is the typed-data struct name registered with the verifier.
const primaryType = "SpendPermission"

// permissionFields is the canonical ordered field list. Reordering, renaming
// or re-typing any entry changes every struct hash and therefore invalidates
// every signature out in the wild; such a change requires a new DomainVersion.
var permissionFields = []apitypes.Type{
	{Name: "account", Type: "address"},
	{Name: "spender", Type: "address"},
	{Name: "token", Type: "address"},
	{Name: "allowance", Type: "uint160"},
	{Name: "period", Type: "uint48"},
	{Name: "start", Type: "uint48"},
	{Name: "end", Type: "uint48"},
	{Name: "salt", Type: "uint256"},
	{Name: "extraData", Type: "bytes"},
}

// Codec builds and hashes spend permissions for one (chain, verifier, token)
// triple. It is pure: no network or storage access.
type Codec struct {
	domainName    string
	domainVersion string
	chainID       int64
	verifier      common.Address
	token         common.Address
	tokenDecimals int
	maxWindow     time.Duration
}

type CodecOptions struct {
	DomainName    string
	DomainVersion string
	ChainID       int64
	Verifier      common.Address
	Token         common.Address
	TokenDecimals int
	// MaxWindow caps the validity window of newly built permissions.
	MaxWindow time.Duration
}

func NewCodec(opts CodecOptions) (*Codec, error) {
	if opts.DomainName == "" || opts.DomainVersion == "" {
		return nil, fmt.Errorf("typed-data domain name/version required")
	}
	if opts.ChainID <= 0 {
		return nil, fmt.Errorf("invalid chain id: %d", opts.ChainID)
	}
	if opts.TokenDecimals < 0 || opts.TokenDecimals > 77 {
		return nil, fmt.Errorf("invalid token decimals: %d", opts.TokenDecimals)
	}
	return &Codec{
		domainName:    opts.DomainName,
		domainVersion: opts.DomainVersion,
		chainID:       opts.ChainID,
		verifier:      opts.Verifier,
		token:         opts.Token,
		tokenDecimals: opts.TokenDecimals,
		maxWindow:     opts.MaxWindow,
	}, nil
}

// Allowance converts a cent price to token base units:
// round-half-even(priceCents * 10^decimals / 100), exact integer arithmetic.
func (c *Codec) Allowance(priceCents int64) (*big.Int, error) {
	if priceCents <= 0 {
		return nil, ErrInvalidPrice
	}
	num := new(big.Int).Mul(
		big.NewInt(priceCents),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.tokenDecimals)), nil),
	)
	q, r := new(big.Int).QuoRem(num, big.NewInt(100), new(big.Int))
	half := r.Int64()*2 - 100
	if half > 0 || (half == 0 && q.Bit(0) == 1) {
		q.Add(q, big.NewInt(1))
	}
	if q.Cmp(maxUint160) > 0 {
		return nil, fmt.Errorf("allowance exceeds uint160 range")
	}
	return q, nil
}

// Build constructs a new unsigned permission for the given price and period.
// start is now; end is now + durationPeriods periods, capped at the codec's
// max window. The salt packs unix-nanos into the top 64 bits and 192 random
// bits below, which makes collision within one account's permission set
// practically impossible.
func (c *Codec) Build(account, spender common.Address, priceCents int64, period types.BillingPeriod, durationPeriods int, now time.Time) (SpendPermission, error) {
	if !period.Valid() {
		return SpendPermission{}, ErrInvalidPeriod
	}
	if durationPeriods <= 0 {
		return SpendPermission{}, ErrInvalidDuration
	}
	allowance, err := c.Allowance(priceCents)
	if err != nil {
		return SpendPermission{}, err
	}

	start := now.Unix()
	end := now.Add(time.Duration(durationPeriods) * period.Duration())
	if c.maxWindow > 0 {
		if capped := now.Add(c.maxWindow); end.After(capped) {
			end = capped
		}
	}
	if end.Unix() <= start {
		return SpendPermission{}, ErrInvalidDuration
	}
	if uint64(end.Unix()) > maxUint48 {
		return SpendPermission{}, fmt.Errorf("permission end exceeds uint48 range")
	}

	salt, err := newSalt(now)
	if err != nil {
		return SpendPermission{}, fmt.Errorf("failed to generate salt: %w", err)
	}

	return SpendPermission{
		Account:   account,
		Spender:   spender,
		Token:     c.token,
		Allowance: allowance,
		Period:    uint64(period.Seconds()),
		Start:     uint64(start),
		End:       uint64(end.Unix()),
		Salt:      salt,
		ExtraData: []byte{},
	}, nil
}

func newSalt(now time.Time) (*big.Int, error) {
	var entropy [24]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return nil, err
	}
	salt := new(big.Int).Lsh(new(big.Int).SetUint64(uint64(now.UnixNano())), 192)
	return salt.Or(salt, new(big.Int).SetBytes(entropy[:])), nil
}

// TypedData returns the full EIP-712 payload for p: the exact structure a
// wallet is asked to sign and the exact structure hashed for verification.
func (c *Codec) TypedData(p SpendPermission) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			primaryType: permissionFields,
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              c.domainName,
			Version:           c.domainVersion,
			ChainId:           math.NewHexOrDecimal256(c.chainID),
			VerifyingContract: c.verifier.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"account":   p.Account.Hex(),
			"spender":   p.Spender.Hex(),
			"token":     p.Token.Hex(),
			"allowance": p.Allowance.String(),
			"period":    new(big.Int).SetUint64(p.Period).String(),
			"start":     new(big.Int).SetUint64(p.Start).String(),
			"end":       new(big.Int).SetUint64(p.End).String(),
			"salt":      p.Salt.String(),
			"extraData": hexutil.Encode(p.ExtraData),
		},
	}
}

// Hash computes the EIP-712 digest keccak256("\x19\x01" ‖ domainSeparator ‖
// structHash). It must equal the verifier's getPermissionHash for the same
// tuple, otherwise signatures are accepted/rejected wrongly and silently.
func (c *Codec) Hash(p SpendPermission) (common.Hash, error) {
	digest, _, err := apitypes.TypedDataAndHash(c.TypedData(p))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash permission: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// Validate checks range constraints on a stored tuple before replaying it
// on-chain.
func (c *Codec) Validate(p SpendPermission) error {
	if p.Allowance == nil || p.Allowance.Sign() <= 0 {
		return fmt.Errorf("allowance must be positive")
	}
	if p.Allowance.Cmp(maxUint160) > 0 {
		return fmt.Errorf("allowance exceeds uint160 range")
	}
	if p.Period == 0 || p.Period > maxUint48 {
		return fmt.Errorf("period out of uint48 range")
	}
	if p.Start > maxUint48 || p.End > maxUint48 {
		return fmt.Errorf("window out of uint48 range")
	}
	if p.End <= p.Start {
		return fmt.Errorf("end must be after start")
	}
	if p.Salt == nil || p.Salt.Sign() < 0 || p.Salt.BitLen() > 256 {
		return fmt.Errorf("salt out of uint256 range")
	}
	return nil
}

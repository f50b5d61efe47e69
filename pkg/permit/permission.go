package permit

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SpendPermission is the 9-field tuple the customer signs and the on-chain
// permission manager verifies. Field order and integer widths are part of the
// wire contract (address/address/address/uint160/uint48/uint48/uint48/uint256/bytes)
// and must never change without a new domain version.
//
// A permission is immutable once signed: it is stored verbatim and replayed
// bitwise-identical on every later approve/spend call, never recomputed.
type SpendPermission struct {
	Account   common.Address
	Spender   common.Address
	Token     common.Address
	Allowance *big.Int // uint160: max transferable per period, token base units
	Period    uint64   // uint48, seconds
	Start     uint64   // uint48, unix seconds
	End       uint64   // uint48, unix seconds
	Salt      *big.Int // uint256 uniqueness nonce
	ExtraData []byte
}

type permissionJSON struct {
	Account   string `json:"account"`
	Spender   string `json:"spender"`
	Token     string `json:"token"`
	Allowance string `json:"allowance"`
	Period    uint64 `json:"period"`
	Start     uint64 `json:"start"`
	End       uint64 `json:"end"`
	Salt      string `json:"salt"`
	ExtraData string `json:"extraData"`
}

func (p SpendPermission) MarshalJSON() ([]byte, error) {
	return json.Marshal(permissionJSON{
		Account:   p.Account.Hex(),
		Spender:   p.Spender.Hex(),
		Token:     p.Token.Hex(),
		Allowance: p.Allowance.String(),
		Period:    p.Period,
		Start:     p.Start,
		End:       p.End,
		Salt:      p.Salt.String(),
		ExtraData: hexutil.Encode(p.ExtraData),
	})
}

func (p *SpendPermission) UnmarshalJSON(data []byte) error {
	var raw permissionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	allowance, ok := new(big.Int).SetString(raw.Allowance, 10)
	if !ok {
		return fmt.Errorf("invalid allowance: %q", raw.Allowance)
	}
	salt, ok := new(big.Int).SetString(raw.Salt, 10)
	if !ok {
		return fmt.Errorf("invalid salt: %q", raw.Salt)
	}
	extra, err := hexutil.Decode(raw.ExtraData)
	if err != nil {
		return fmt.Errorf("invalid extraData: %w", err)
	}
	p.Account = common.HexToAddress(raw.Account)
	p.Spender = common.HexToAddress(raw.Spender)
	p.Token = common.HexToAddress(raw.Token)
	p.Allowance = allowance
	p.Period = raw.Period
	p.Start = raw.Start
	p.End = raw.End
	p.Salt = salt
	p.ExtraData = extra
	return nil
}

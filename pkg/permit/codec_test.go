package permit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchardpay/biller/pkg/types"
)

var (
	testAccount  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSpender  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testToken    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testVerifier = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func newTestCodec(t *testing.T, decimals int) *Codec {
	t.Helper()
	c, err := NewCodec(CodecOptions{
		DomainName:    "Spend Permission Manager",
		DomainVersion: "1",
		ChainID:       8453,
		Verifier:      testVerifier,
		Token:         testToken,
		TokenDecimals: decimals,
		MaxWindow:     365 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return c
}

func TestAllowance(t *testing.T) {
	tests := []struct {
		name       string
		priceCents int64
		decimals   int
		want       string
		wantErr    error
	}{
		{name: "19.99 at 6 decimals", priceCents: 1999, decimals: 6, want: "19990000"},
		{name: "20.00 at 6 decimals", priceCents: 2000, decimals: 6, want: "20000000"},
		{name: "one cent at 6 decimals", priceCents: 1, decimals: 6, want: "10000"},
		{name: "9.99 at 18 decimals", priceCents: 999, decimals: 18, want: "9990000000000000000"},
		{name: "whole dollars at 0 decimals", priceCents: 500, decimals: 0, want: "5"},
		// 0.25 at 1 decimal is 2.5 base units: half rounds to even (2)
		{name: "half rounds to even down", priceCents: 25, decimals: 1, want: "2"},
		// 0.35 at 1 decimal is 3.5 base units: half rounds to even (4)
		{name: "half rounds to even up", priceCents: 35, decimals: 1, want: "4"},
		{name: "below half rounds down", priceCents: 24, decimals: 1, want: "2"},
		{name: "above half rounds up", priceCents: 26, decimals: 1, want: "3"},
		{name: "zero price rejected", priceCents: 0, decimals: 6, wantErr: ErrInvalidPrice},
		{name: "negative price rejected", priceCents: -100, decimals: 6, wantErr: ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCodec(t, tt.decimals)
			got, err := c.Allowance(tt.priceCents)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestBuild(t *testing.T) {
	c := newTestCodec(t, 6)
	now := time.Unix(1_700_000_000, 0)

	p, err := c.Build(testAccount, testSpender, 2000, types.BillingPeriodMonthly, 12, now)
	require.NoError(t, err)

	assert.Equal(t, testAccount, p.Account)
	assert.Equal(t, testSpender, p.Spender)
	assert.Equal(t, testToken, p.Token)
	assert.Equal(t, "20000000", p.Allowance.String())
	assert.Equal(t, uint64(2592000), p.Period)
	assert.Equal(t, uint64(now.Unix()), p.Start)
	// 12 monthly periods (360d) stays under the 365d cap
	assert.Equal(t, uint64(now.Unix())+12*2592000, p.End)
	assert.Empty(t, p.ExtraData)
	require.NoError(t, c.Validate(p))
}

func TestBuildCapsWindow(t *testing.T) {
	c := newTestCodec(t, 6)
	now := time.Unix(1_700_000_000, 0)

	p, err := c.Build(testAccount, testSpender, 2000, types.BillingPeriodMonthly, 24, now)
	require.NoError(t, err)
	assert.Equal(t, uint64(now.Add(365*24*time.Hour).Unix()), p.End)
}

func TestBuildRejectsInvalidInputs(t *testing.T) {
	c := newTestCodec(t, 6)
	now := time.Now()

	_, err := c.Build(testAccount, testSpender, 0, types.BillingPeriodMonthly, 12, now)
	require.ErrorIs(t, err, ErrInvalidPrice)

	_, err = c.Build(testAccount, testSpender, 2000, types.BillingPeriodMonthly, 0, now)
	require.ErrorIs(t, err, ErrInvalidDuration)

	_, err = c.Build(testAccount, testSpender, 2000, "daily", 12, now)
	require.ErrorIs(t, err, ErrInvalidPeriod)
}

// Two builds with identical inputs must yield structurally identical tuples
// differing only in salt.
func TestBuildDeterminism(t *testing.T) {
	c := newTestCodec(t, 6)
	now := time.Unix(1_700_000_000, 0)

	a, err := c.Build(testAccount, testSpender, 1999, types.BillingPeriodWeekly, 4, now)
	require.NoError(t, err)
	b, err := c.Build(testAccount, testSpender, 1999, types.BillingPeriodWeekly, 4, now)
	require.NoError(t, err)

	assert.Equal(t, a.Account, b.Account)
	assert.Equal(t, a.Spender, b.Spender)
	assert.Equal(t, a.Token, b.Token)
	assert.Equal(t, a.Allowance.String(), b.Allowance.String())
	assert.Equal(t, a.Period, b.Period)
	assert.Equal(t, a.Start, b.Start)
	assert.Equal(t, a.End, b.End)
	assert.NotEqual(t, a.Salt.String(), b.Salt.String())
}

func TestHashStability(t *testing.T) {
	c := newTestCodec(t, 6)
	now := time.Unix(1_700_000_000, 0)

	p, err := c.Build(testAccount, testSpender, 2000, types.BillingPeriodMonthly, 12, now)
	require.NoError(t, err)

	h1, err := c.Hash(p)
	require.NoError(t, err)
	h2, err := c.Hash(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// any field change must change the digest
	q := p
	q.Period++
	h3, err := c.Hash(q)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

// The stored tuple must survive a JSON round-trip bit for bit; later charges
// replay the stored form, never a recomputed one.
func TestPermissionJSONRoundTrip(t *testing.T) {
	c := newTestCodec(t, 6)
	p, err := c.Build(testAccount, testSpender, 1999, types.BillingPeriodQuarterly, 4, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var got SpendPermission
	require.NoError(t, json.Unmarshal(raw, &got))

	h1, err := c.Hash(p)
	require.NoError(t, err)
	h2, err := c.Hash(got)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestValidate(t *testing.T) {
	c := newTestCodec(t, 6)
	p, err := c.Build(testAccount, testSpender, 2000, types.BillingPeriodMonthly, 12, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	bad := p
	bad.End = bad.Start
	require.Error(t, c.Validate(bad))

	bad = p
	bad.Allowance = nil
	require.Error(t, c.Validate(bad))

	bad = p
	bad.Period = 0
	require.Error(t, c.Validate(bad))
}

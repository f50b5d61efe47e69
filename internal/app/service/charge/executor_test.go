package charge

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/orchardpay/biller/internal/app/service/ledger"
	"github.com/orchardpay/biller/internal/app/service/subscription"
	"github.com/orchardpay/biller/internal/models"
	cfgpkg "github.com/orchardpay/biller/pkg/config"
	"github.com/orchardpay/biller/pkg/permit"
	"github.com/orchardpay/biller/pkg/types"
)

type fakeRegistry struct {
	mu   sync.Mutex
	subs map[string]*models.Subscription
}

func newFakeRegistry(subs ...*models.Subscription) *fakeRegistry {
	r := &fakeRegistry{subs: map[string]*models.Subscription{}}
	for _, s := range subs {
		r.subs[s.ID] = s
	}
	return r
}

func (r *fakeRegistry) Get(_ context.Context, id string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRegistry) RecordChargeSuccess(_ context.Context, id string, amountCents int64) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.subs[id]
	now := time.Now()
	s.NextChargeAt = s.NextChargeAt.Add(s.Period.Duration())
	s.ChargeCount++
	s.TotalChargedCents += amountCents
	s.LastChargedAt = &now
	s.Status = types.SubscriptionStatusActive
	cp := *s
	return &cp, nil
}

func (r *fakeRegistry) MarkPastDue(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[id].Status = types.SubscriptionStatusPastDue
	return nil
}

func (r *fakeRegistry) MarkExpired(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[id].Status = types.SubscriptionStatusExpired
	return nil
}

type fakeLedger struct {
	mu     sync.Mutex
	events []*models.BillingEvent
}

func (l *fakeLedger) Append(_ context.Context, ev *models.BillingEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.ID == ev.ID {
			return ledger.ErrDuplicateEvent
		}
	}
	l.events = append(l.events, ev)
	return nil
}

func (l *fakeLedger) bySubscription(id string) []*models.BillingEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.BillingEvent
	for _, e := range l.events {
		if e.SubscriptionID == id {
			out = append(out, e)
		}
	}
	return out
}

type fakeLeases struct {
	mu     sync.Mutex
	leases map[string]string
}

func newFakeLeases() *fakeLeases { return &fakeLeases{leases: map[string]string{}} }

func (f *fakeLeases) Acquire(_ context.Context, subscriptionID, holder string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.leases[subscriptionID]; held {
		return false, nil
	}
	f.leases[subscriptionID] = holder
	return true, nil
}

func (f *fakeLeases) Release(_ context.Context, subscriptionID, holder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leases[subscriptionID] == holder {
		delete(f.leases, subscriptionID)
	}
	return nil
}

// fakeBackend scripts the two-phase call sequence and records what was
// submitted.
type fakeBackend struct {
	mu sync.Mutex

	approveErr        error
	approveConfirmErr error
	spendErr          error
	spendConfirmErr   error

	approveCalls int
	spendCalls   int
	spendAmounts []*big.Int
}

func (b *fakeBackend) ApproveWithSignature(_ context.Context, _ permit.SpendPermission, _ []byte) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.approveCalls++
	if b.approveErr != nil {
		return common.Hash{}, b.approveErr
	}
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("approve-%d", b.approveCalls))), nil
}

func (b *fakeBackend) Spend(_ context.Context, _ permit.SpendPermission, amount *big.Int) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spendCalls++
	b.spendAmounts = append(b.spendAmounts, new(big.Int).Set(amount))
	if b.spendErr != nil {
		return common.Hash{}, b.spendErr
	}
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("spend-%d", b.spendCalls))), nil
}

func (b *fakeBackend) WaitConfirmed(_ context.Context, txHash common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// approve hashes come from the approve counter, spend hashes likewise
	for i := 1; i <= b.approveCalls; i++ {
		if txHash == crypto.Keccak256Hash([]byte(fmt.Sprintf("approve-%d", i))) {
			return b.approveConfirmErr
		}
	}
	return b.spendConfirmErr
}

func (b *fakeBackend) PermissionHash(_ context.Context, _ permit.SpendPermission) (common.Hash, error) {
	return common.Hash{}, nil
}

func testConfig() *cfgpkg.Config {
	return &cfgpkg.Config{
		Billing: cfgpkg.BillingConfig{
			PlatformFeeBps: 250,
			FeeRecipient:   "0x5555555555555555555555555555555555555555",
			LeaseTTL:       time.Minute,
		},
	}
}

func testCodec(t *testing.T) *permit.Codec {
	t.Helper()
	c, err := permit.NewCodec(permit.CodecOptions{
		DomainName:    "Spend Permission Manager",
		DomainVersion: "1",
		ChainID:       8453,
		Verifier:      common.HexToAddress("0x4444444444444444444444444444444444444444"),
		Token:         common.HexToAddress("0x3333333333333333333333333333333333333333"),
		TokenDecimals: 6,
		MaxWindow:     365 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return c
}

func testSubscription(t *testing.T, codec *permit.Codec, status types.SubscriptionStatus, nextChargeAt time.Time) *models.Subscription {
	t.Helper()
	perm, err := codec.Build(
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		2000, types.BillingPeriodMonthly, 12, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	sig := "0x" + fmt.Sprintf("%0130x", 1)
	return &models.Subscription{
		ID:           "018f0000-0000-7000-8000-000000000001",
		PlanID:       "018f0000-0000-7000-8000-00000000000a",
		MerchantID:   "merchant-1",
		Customer:     perm.Account.Hex(),
		PriceCents:   2000,
		Period:       types.BillingPeriodMonthly,
		Status:       status,
		Permission:   datatypes.NewJSONType(&perm),
		Signature:    sig,
		NextChargeAt: nextChargeAt,
	}
}

type fixture struct {
	executor *Executor
	registry *fakeRegistry
	ledger   *fakeLedger
	leases   *fakeLeases
	backend  *fakeBackend
}

func newFixture(t *testing.T, subs ...*models.Subscription) *fixture {
	t.Helper()
	f := &fixture{
		registry: newFakeRegistry(subs...),
		ledger:   &fakeLedger{},
		leases:   newFakeLeases(),
		backend:  &fakeBackend{},
	}
	f.executor = NewExecutor(testConfig(), zap.NewNop().Sugar(), f.registry, f.ledger, f.leases, f.backend, testCodec(t))
	return f
}

// Scenario: a due $20.00 monthly subscription at 6 token decimals charges
// exactly 20000000 base units and the schedule advances one period.
func TestChargeSuccess(t *testing.T) {
	codec := testCodec(t)
	anchor := time.Now().Add(-time.Minute)
	sub := testSubscription(t, codec, types.SubscriptionStatusActive, anchor)
	f := newFixture(t, sub)

	res, err := f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeSuccess, res.Outcome)
	assert.Equal(t, int64(2000), res.AmountCents)
	assert.NotEmpty(t, res.TxHash)
	assert.Equal(t, int64(1), res.ChargeCount)
	assert.Equal(t, anchor.Add(30*24*time.Hour), res.NextChargeAt)

	require.Len(t, f.backend.spendAmounts, 1)
	assert.Equal(t, "20000000", f.backend.spendAmounts[0].String())

	events := f.ledger.bySubscription(sub.ID)
	require.Len(t, events, 1)
	assert.Equal(t, models.BillingEventID(sub.ID, 1), events[0].ID)
	assert.Equal(t, int64(2000), events[0].AmountCents)
	assert.Equal(t, int64(50), events[0].FeeCents, "250bps of $20.00")
	assert.Equal(t, int64(250), events[0].FeeBps)
	require.NotNil(t, events[0].TxHash)
	assert.Equal(t, res.TxHash, *events[0].TxHash)

	stored, _ := f.registry.Get(context.Background(), sub.ID)
	assert.Equal(t, types.SubscriptionStatusActive, stored.Status)
	assert.Equal(t, int64(2000), stored.TotalChargedCents)
}

// Scenario: the spend transaction reverts; the subscription moves to
// past_due, the ledger stays empty and the charge count is unchanged.
func TestChargeSpendRevert(t *testing.T) {
	codec := testCodec(t)
	sub := testSubscription(t, codec, types.SubscriptionStatusActive, time.Now().Add(-time.Minute))
	f := newFixture(t, sub)
	f.backend.spendConfirmErr = fmt.Errorf("transaction reverted in block 100")

	res, err := f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeSpendFailed, res.Outcome)

	assert.Empty(t, f.ledger.bySubscription(sub.ID))
	stored, _ := f.registry.Get(context.Background(), sub.ID)
	assert.Equal(t, types.SubscriptionStatusPastDue, stored.Status)
	assert.Equal(t, int64(0), stored.ChargeCount)
	// next_charge_at untouched: the next scheduler pass retries naturally
	assert.Equal(t, sub.NextChargeAt.Unix(), stored.NextChargeAt.Unix())
}

func TestChargeApproveFailureStopsBeforeSpend(t *testing.T) {
	codec := testCodec(t)
	sub := testSubscription(t, codec, types.SubscriptionStatusActive, time.Now().Add(-time.Minute))
	f := newFixture(t, sub)
	f.backend.approveConfirmErr = fmt.Errorf("timed out waiting for confirmation")

	res, err := f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeApproveFailed, res.Outcome)
	assert.Zero(t, f.backend.spendCalls, "spend must not be attempted after a failed approve")
	assert.Empty(t, f.ledger.bySubscription(sub.ID))

	stored, _ := f.registry.Get(context.Background(), sub.ID)
	assert.Equal(t, types.SubscriptionStatusPastDue, stored.Status)
}

// Scenario: the schedule is three periods behind; exactly one charge fires
// and next_charge_at advances by exactly one period.
func TestChargeMissedCyclesNotBackfilled(t *testing.T) {
	codec := testCodec(t)
	period := types.BillingPeriodMonthly.Duration()
	anchor := time.Now().Add(-3 * period)
	sub := testSubscription(t, codec, types.SubscriptionStatusActive, anchor)
	f := newFixture(t, sub)

	res, err := f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeSuccess, res.Outcome)
	assert.Equal(t, 1, f.backend.spendCalls)
	assert.Len(t, f.ledger.bySubscription(sub.ID), 1)
	assert.Equal(t, anchor.Add(period).Unix(), res.NextChargeAt.Unix())
}

func TestChargeNotDue(t *testing.T) {
	codec := testCodec(t)
	next := time.Now().Add(time.Hour)
	sub := testSubscription(t, codec, types.SubscriptionStatusActive, next)
	f := newFixture(t, sub)

	res, err := f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeNotDue, res.Outcome)
	assert.Equal(t, next.Unix(), res.NextChargeAt.Unix())
	assert.Zero(t, f.backend.approveCalls)
}

// Scenario: a cancelled subscription is never charged.
func TestChargeCancelledIneligible(t *testing.T) {
	codec := testCodec(t)
	sub := testSubscription(t, codec, types.SubscriptionStatusCancelled, time.Now().Add(-time.Hour))
	f := newFixture(t, sub)

	res, err := f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeIneligible, res.Outcome)
	assert.Zero(t, f.backend.approveCalls)
	assert.Empty(t, f.ledger.bySubscription(sub.ID))
}

func TestChargeUnknownSubscription(t *testing.T) {
	f := newFixture(t)
	_, err := f.executor.Charge(context.Background(), "no-such-id")
	require.ErrorIs(t, err, subscription.ErrNotFound)
}

// A second trigger firing while the first attempt still holds the lease must
// not produce a second billing event for the cycle.
func TestChargeDoubleFireSingleEffect(t *testing.T) {
	codec := testCodec(t)
	sub := testSubscription(t, codec, types.SubscriptionStatusActive, time.Now().Add(-time.Minute))
	f := newFixture(t, sub)

	held, err := f.leases.Acquire(context.Background(), sub.ID, "other-attempt", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	res, err := f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeInFlight, res.Outcome)
	assert.Zero(t, f.backend.approveCalls)
	assert.Empty(t, f.ledger.bySubscription(sub.ID))

	// once the first attempt releases, the charge goes through exactly once
	require.NoError(t, f.leases.Release(context.Background(), sub.ID, "other-attempt"))
	res, err = f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeSuccess, res.Outcome)
	assert.Len(t, f.ledger.bySubscription(sub.ID), 1)
}

// past_due recovers to active after the next successful attempt, with the
// charge count incremented exactly once.
func TestChargePastDueRecovery(t *testing.T) {
	codec := testCodec(t)
	sub := testSubscription(t, codec, types.SubscriptionStatusPastDue, time.Now().Add(-time.Minute))
	f := newFixture(t, sub)

	res, err := f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeSuccess, res.Outcome)
	assert.Equal(t, int64(1), res.ChargeCount)

	stored, _ := f.registry.Get(context.Background(), sub.ID)
	assert.Equal(t, types.SubscriptionStatusActive, stored.Status)
}

// A ledger row already recorded for the cycle (an earlier attempt that died
// between ledger write and schedule update) is tolerated: the schedule still
// advances and no second row appears.
func TestChargeReplayAfterLedgerWrite(t *testing.T) {
	codec := testCodec(t)
	sub := testSubscription(t, codec, types.SubscriptionStatusActive, time.Now().Add(-time.Minute))
	f := newFixture(t, sub)

	prior := &models.BillingEvent{
		ID:             models.BillingEventID(sub.ID, 1),
		SubscriptionID: sub.ID,
		AmountCents:    2000,
		ChargedAt:      time.Now(),
	}
	require.NoError(t, f.ledger.Append(context.Background(), prior))

	res, err := f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeSuccess, res.Outcome)
	assert.Equal(t, int64(1), res.ChargeCount)
	assert.Len(t, f.ledger.bySubscription(sub.ID), 1)
}

func TestChargeExpiredWindow(t *testing.T) {
	codec := testCodec(t)
	sub := testSubscription(t, codec, types.SubscriptionStatusActive, time.Now().Add(-time.Minute))
	perm := sub.Permission.Data()
	perm.End = uint64(time.Now().Add(-time.Hour).Unix())
	sub.Permission = datatypes.NewJSONType(perm)
	f := newFixture(t, sub)

	res, err := f.executor.Charge(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ChargeOutcomeIneligible, res.Outcome)
	assert.Zero(t, f.backend.approveCalls)

	stored, _ := f.registry.Get(context.Background(), sub.ID)
	assert.Equal(t, types.SubscriptionStatusExpired, stored.Status)
}

func TestPlatformFee(t *testing.T) {
	assert.Equal(t, int64(50), PlatformFee(2000, 250))
	assert.Equal(t, int64(0), PlatformFee(1, 250))
	assert.Equal(t, int64(25), PlatformFee(1000, 250))
	assert.Equal(t, int64(0), PlatformFee(2000, 0))
}

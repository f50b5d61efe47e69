package charge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/orchardpay/biller/internal/app/service/ledger"
	"github.com/orchardpay/biller/internal/models"
	"github.com/orchardpay/biller/internal/platform/chain"
	cfgpkg "github.com/orchardpay/biller/pkg/config"
	"github.com/orchardpay/biller/pkg/logctx"
	"github.com/orchardpay/biller/pkg/metrics"
	"github.com/orchardpay/biller/pkg/permit"
	"github.com/orchardpay/biller/pkg/tool"
	"github.com/orchardpay/biller/pkg/types"
)

// Registry is the schedule/state surface the executor needs from the
// subscription service.
type Registry interface {
	Get(ctx context.Context, id string) (*models.Subscription, error)
	RecordChargeSuccess(ctx context.Context, id string, amountCents int64) (*models.Subscription, error)
	MarkPastDue(ctx context.Context, id string) error
	MarkExpired(ctx context.Context, id string) error
}

// Ledger records the economic effect of confirmed spends.
type Ledger interface {
	Append(ctx context.Context, ev *models.BillingEvent) error
}

// LeaseStore hands out short-lived exclusive claims per subscription.
type LeaseStore interface {
	Acquire(ctx context.Context, subscriptionID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, subscriptionID, holder string) error
}

// Result reports one charge attempt. A failed attempt is a Result, not an
// error: errors are reserved for infrastructure faults (storage, RPC setup).
type Result struct {
	Outcome      types.ChargeOutcome
	AmountCents  int64
	TxHash       string
	NextChargeAt time.Time
	ChargeCount  int64
	Message      string
}

// Executor drives the two-phase on-chain charge for one due subscription:
// approve (idempotent, always safe to repeat) is confirmed before spend is
// submitted, and the ledger entry plus schedule advance happen only after
// the spend itself is confirmed. Each phase can fail independently; any
// failure marks the subscription past_due and writes nothing to the ledger.
type Executor struct {
	cfg      *cfgpkg.Config
	log      *zap.SugaredLogger
	registry Registry
	ledger   Ledger
	leases   LeaseStore
	backend  chain.Backend
	codec    *permit.Codec

	now func() time.Time
}

func NewExecutor(cfg *cfgpkg.Config, log *zap.SugaredLogger, registry Registry, lg Ledger, leases LeaseStore, backend chain.Backend, codec *permit.Codec) *Executor {
	return &Executor{
		cfg:      cfg,
		log:      log,
		registry: registry,
		ledger:   lg,
		leases:   leases,
		backend:  backend,
		codec:    codec,
		now:      time.Now,
	}
}

// Charge executes at most one billing cycle for the subscription. Triggers
// that fire while a prior attempt is in flight get an in_flight result; a
// schedule that is several periods behind still yields exactly one charge.
func (e *Executor) Charge(ctx context.Context, subscriptionID string) (*Result, error) {
	started := e.now()
	res, err := e.charge(ctx, subscriptionID)
	if res != nil {
		metrics.ChargeAttempts.WithLabelValues(string(res.Outcome)).Inc()
		metrics.ChargeDuration.WithLabelValues(string(res.Outcome)).
			Observe(float64(e.now().Sub(started).Milliseconds()))
	}
	return res, err
}

func (e *Executor) charge(ctx context.Context, subscriptionID string) (*Result, error) {
	log := logctx.FromCtx(ctx, e.log).With("subscription_id", subscriptionID)

	sub, err := e.registry.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	now := e.now()

	if sub.Status.Terminal() {
		return &Result{Outcome: types.ChargeOutcomeIneligible, Message: fmt.Sprintf("subscription is %s", sub.Status)}, nil
	}
	if sub.PermissionEnded(now) {
		if err := e.registry.MarkExpired(ctx, sub.ID); err != nil {
			return nil, fmt.Errorf("failed to expire subscription: %w", err)
		}
		log.Infow("subscription expired", "status", types.SubscriptionStatusExpired)
		return &Result{Outcome: types.ChargeOutcomeIneligible, Message: "permission window closed"}, nil
	}
	if !sub.Due(now) {
		return &Result{Outcome: types.ChargeOutcomeNotDue, NextChargeAt: sub.NextChargeAt}, nil
	}

	holder := tool.GenerateUUIDV7()
	acquired, err := e.leases.Acquire(ctx, sub.ID, holder, e.cfg.Billing.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire charge lease: %w", err)
	}
	if !acquired {
		log.Warnw("charge already in flight")
		return &Result{Outcome: types.ChargeOutcomeInFlight, NextChargeAt: sub.NextChargeAt}, nil
	}
	defer func() {
		if err := e.leases.Release(context.WithoutCancel(ctx), sub.ID, holder); err != nil {
			log.Errorf("failed to release charge lease: %v", err)
		}
	}()

	return e.execute(ctx, log, sub, now)
}

func (e *Executor) execute(ctx context.Context, log *zap.SugaredLogger, sub *models.Subscription, now time.Time) (*Result, error) {
	// The tuple and signature are replayed exactly as stored; rebuilding
	// either would produce a different hash and break verification.
	perm := sub.Permission.Data()
	if perm == nil {
		return nil, fmt.Errorf("subscription %s has no stored permission", sub.ID)
	}
	sig, err := hexutil.Decode(sub.Signature)
	if err != nil {
		return nil, fmt.Errorf("subscription %s has a malformed stored signature: %w", sub.ID, err)
	}
	amountDue, err := e.codec.Allowance(sub.PriceCents)
	if err != nil {
		return nil, fmt.Errorf("failed to compute amount due: %w", err)
	}

	// Phase 1: approve. Harmless if already approved by an earlier attempt.
	approveTx, err := e.backend.ApproveWithSignature(ctx, *perm, sig)
	if err != nil {
		return e.fail(ctx, log, sub, types.ChargeOutcomeApproveFailed, fmt.Sprintf("approve submission failed: %v", err))
	}
	if err := e.backend.WaitConfirmed(ctx, approveTx); err != nil {
		// The transaction may still land later; approve being idempotent
		// makes the retry on the next trigger safe either way.
		return e.fail(ctx, log, sub, types.ChargeOutcomeApproveFailed, fmt.Sprintf("approve not confirmed: %v", err))
	}
	log.Infow("approve confirmed", "tx", approveTx.Hex())

	// Phase 2: spend the due amount, never the full allowance.
	spendTx, err := e.backend.Spend(ctx, *perm, amountDue)
	if err != nil {
		return e.fail(ctx, log, sub, types.ChargeOutcomeSpendFailed, fmt.Sprintf("spend submission failed: %v", err))
	}
	if err := e.backend.WaitConfirmed(ctx, spendTx); err != nil {
		return e.fail(ctx, log, sub, types.ChargeOutcomeSpendFailed, fmt.Sprintf("spend not confirmed: %v", err))
	}
	log.Infow("spend confirmed", "tx", spendTx.Hex(), "amount_cents", sub.PriceCents)

	// Economic effect is final: ledger first, then the schedule advance.
	txHex := spendTx.Hex()
	cycle := sub.ChargeCount + 1
	ev := &models.BillingEvent{
		ID:             models.BillingEventID(sub.ID, cycle),
		SubscriptionID: sub.ID,
		Customer:       sub.Customer,
		MerchantID:     sub.MerchantID,
		AmountCents:    sub.PriceCents,
		FeeCents:       PlatformFee(sub.PriceCents, e.cfg.Billing.PlatformFeeBps),
		FeeBps:         e.cfg.Billing.PlatformFeeBps,
		FeeRecipient:   e.cfg.Billing.FeeRecipient,
		TxHash:         &txHex,
		ChargedAt:      now,
	}
	if err := e.ledger.Append(ctx, ev); err != nil {
		if !errors.Is(err, ledger.ErrDuplicateEvent) {
			// Spend landed but the ledger write failed. Report the fault and
			// leave the schedule untouched: a repeated spend for this period
			// reverts on-chain, so the retry path cannot double-charge.
			return nil, fmt.Errorf("spend %s confirmed but ledger append failed: %w", txHex, err)
		}
		log.Warnw("billing event already recorded for cycle", "event_id", ev.ID)
	}

	updated, err := e.registry.RecordChargeSuccess(ctx, sub.ID, sub.PriceCents)
	if err != nil {
		return nil, fmt.Errorf("spend %s confirmed but schedule update failed: %w", txHex, err)
	}

	return &Result{
		Outcome:      types.ChargeOutcomeSuccess,
		AmountCents:  sub.PriceCents,
		TxHash:       txHex,
		NextChargeAt: updated.NextChargeAt,
		ChargeCount:  updated.ChargeCount,
	}, nil
}

// fail ends the attempt: past_due, no ledger entry. The absence of a billing
// event for the cycle is itself the audit trail of the failed attempt.
func (e *Executor) fail(ctx context.Context, log *zap.SugaredLogger, sub *models.Subscription, outcome types.ChargeOutcome, msg string) (*Result, error) {
	log.Errorw("charge attempt failed", "outcome", outcome, "detail", msg)
	if err := e.registry.MarkPastDue(ctx, sub.ID); err != nil {
		return nil, fmt.Errorf("failed to mark subscription past_due: %w", err)
	}
	return &Result{Outcome: outcome, NextChargeAt: sub.NextChargeAt, Message: msg}, nil
}

// PlatformFee computes the platform's cut in cents, rounded down.
func PlatformFee(amountCents, feeBps int64) int64 {
	return amountCents * feeBps / 10000
}

package app

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/fx"

	"github.com/orchardpay/biller/internal/app/api/server"
	"github.com/orchardpay/biller/internal/app/service/charge"
	"github.com/orchardpay/biller/internal/app/service/ledger"
	"github.com/orchardpay/biller/internal/app/service/plan"
	"github.com/orchardpay/biller/internal/app/service/statistics"
	"github.com/orchardpay/biller/internal/app/service/subscription"
	"github.com/orchardpay/biller/internal/platform/chain"
	"github.com/orchardpay/biller/internal/platform/db"
	"github.com/orchardpay/biller/pkg/config"
	"github.com/orchardpay/biller/pkg/logger"
	"github.com/orchardpay/biller/pkg/permit"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// newPermitCodec binds the typed-data codec to the configured chain, verifier
// and token. The whole process shares one codec; every permission it builds
// or hashes uses the same domain.
func newPermitCodec(cfg *config.Config) (*permit.Codec, error) {
	return permit.NewCodec(permit.CodecOptions{
		DomainName:    cfg.Chain.DomainName,
		DomainVersion: cfg.Chain.DomainVersion,
		ChainID:       cfg.Chain.ChainID,
		Verifier:      common.HexToAddress(cfg.Chain.PermissionManager),
		Token:         common.HexToAddress(cfg.Chain.Token),
		TokenDecimals: cfg.Chain.TokenDecimals,
		MaxWindow:     time.Duration(cfg.Billing.MaxPermissionMonths) * 30 * 24 * time.Hour,
	})
}

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	chain.Module,
	fx.Provide(newPermitCodec),
	plan.Module,
	subscription.Module,
	ledger.Module,
	charge.Module,
	statistics.Module,
	server.Module,
)

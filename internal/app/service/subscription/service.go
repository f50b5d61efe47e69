package subscription

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orchardpay/biller/internal/platform/chain"
	cfgpkg "github.com/orchardpay/biller/pkg/config"
	"github.com/orchardpay/biller/pkg/permit"
)

var (
	// ErrNotFound covers both a missing subscription and one the requester
	// may not touch; callers learn nothing about existence either way.
	ErrNotFound = errors.New("subscription not found")
	ErrInvalid  = errors.New("invalid subscription request")
	// ErrTerminal rejects operations on cancelled/expired subscriptions.
	ErrTerminal = errors.New("subscription is in a terminal state")
)

type Service struct {
	cfg    *cfgpkg.Config
	db     *gorm.DB
	log    *zap.SugaredLogger
	codec  *permit.Codec
	signer *chain.Signer
}

func NewService(cfg *cfgpkg.Config, db *gorm.DB, log *zap.SugaredLogger, codec *permit.Codec, signer *chain.Signer) *Service {
	return &Service{cfg: cfg, db: db, log: log, codec: codec, signer: signer}
}

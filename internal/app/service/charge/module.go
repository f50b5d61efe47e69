package charge

import (
	"go.uber.org/fx"

	"github.com/orchardpay/biller/internal/app/service/ledger"
	"github.com/orchardpay/biller/internal/app/service/subscription"
)

var Module = fx.Options(
	fx.Provide(NewExecutor),
	fx.Provide(NewLeaseStore),
	fx.Provide(func(s *subscription.Service) Registry { return s }),
	fx.Provide(func(s *ledger.Service) Ledger { return s }),
)

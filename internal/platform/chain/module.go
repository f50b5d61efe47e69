package chain

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(NewSigner),
	fx.Provide(NewPermissionManager),
	fx.Provide(func(m *PermissionManager) Backend { return m }),
	fx.Invoke(registerClose),
)

func registerClose(lc fx.Lifecycle, m *PermissionManager) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			m.Close()
			return nil
		},
	})
}

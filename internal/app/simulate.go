package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"utility-balance-alerts/internal/fetcher"
	"utility-balance-alerts/internal/model"
)

// SimulateOptions describe the balance every account reports during a simulated pass.
type SimulateOptions struct {
	Account     string
	Balance     decimal.Decimal
	Unavailable bool
}

// SimulateAlert 用固定余额跑一次完整的巡检与投递流程，不访问上游余额接口。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	rt, err := a.open(ctx, staticFetcher(opts))
	if err != nil {
		return err
	}
	defer rt.Close(a.Logger)

	list := rt.accounts
	if opts.Account != "" {
		list = []model.Account{{Number: opts.Account, Name: "simulated"}}
	}
	if len(list) == 0 {
		return errors.New("no accounts configured; pass --account")
	}

	if !rt.settings.Get(ctx).Enabled {
		return ErrDisabled
	}
	rt.service.Attach(list)
	if err := rt.service.ForceCheck(ctx); err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "simulated pass over %d account(s); notified today: %d; pending retries: %d\n",
		len(list), rt.history.TodaysNotificationCount(ctx), len(rt.queue.Pending(ctx)))
	return nil
}

func staticFetcher(opts SimulateOptions) fetcher.BalanceFetcher {
	return fetcher.Func(func(context.Context, string) (fetcher.BalanceResult, error) {
		if opts.Unavailable {
			return fetcher.BalanceResult{Success: false}, nil
		}
		balance := opts.Balance
		return fetcher.BalanceResult{Success: true, Balance: &balance}, nil
	})
}

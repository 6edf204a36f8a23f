package fetcher

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceResult is the structured outcome of one balance lookup.
type BalanceResult struct {
	Success       bool
	HasNullValues bool
	Balance       *decimal.Decimal
}

// Usable reports whether the result carries a trustworthy balance.
func (r BalanceResult) Usable() bool {
	return r.Success && !r.HasNullValues && r.Balance != nil
}

// BalanceFetcher retrieves the current balance of one account.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context, accountNo string) (BalanceResult, error)
}

// Func adapts a plain function to BalanceFetcher.
type Func func(ctx context.Context, accountNo string) (BalanceResult, error)

func (f Func) FetchBalance(ctx context.Context, accountNo string) (BalanceResult, error) {
	return f(ctx, accountNo)
}

// APIError is a non-2xx answer from the balance API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("balance api error (%d)", e.Status)
	}
	return fmt.Sprintf("balance api error (%d): %s", e.Status, e.Message)
}

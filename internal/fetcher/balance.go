package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"utility-balance-alerts/internal/version"
)

const balancePathFormat = "/accounts/%s/balance"

// HTTPOptions parameterise the balance API client.
type HTTPOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// HTTP fetches balances from the upstream REST API.
type HTTP struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTP constructs a balance fetcher.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &HTTP{
		opts:    opts,
		logger:  logger.With().Str("component", "balance_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchBalance 查询单个账户余额。
func (h *HTTP) FetchBalance(ctx context.Context, accountNo string) (BalanceResult, error) {
	if h.baseURL == "" {
		return BalanceResult{}, errors.New("balance api base url not configured")
	}
	if strings.TrimSpace(accountNo) == "" {
		return BalanceResult{}, errors.New("account number required")
	}

	endpoint := h.baseURL + fmt.Sprintf(balancePathFormat, url.PathEscape(accountNo))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return BalanceResult{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	if h.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.opts.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return BalanceResult{}, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return BalanceResult{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return BalanceResult{}, parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var payload balanceResponse
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return BalanceResult{}, fmt.Errorf("decode balance response: %w", err)
	}

	result := BalanceResult{
		Success:       payload.Success,
		HasNullValues: payload.HasNullValues,
	}
	if payload.Data != nil {
		result.Balance = payload.Data.Balance
	}

	h.logger.Debug().
		Str("account", accountNo).
		Bool("success", result.Success).
		Bool("has_null_values", result.HasNullValues).
		Msg("balance fetched")
	return result, nil
}

type balanceResponse struct {
	Success       bool `json:"success"`
	HasNullValues bool `json:"hasNullValues"`
	Data          *struct {
		Balance *decimal.Decimal `json:"balance"`
	} `json:"data"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return &APIError{Status: status, Message: apiErr.Message}
		}
		if apiErr.Error != "" {
			return &APIError{Status: status, Message: apiErr.Error}
		}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(payload))}
}

var _ BalanceFetcher = (*HTTP)(nil)

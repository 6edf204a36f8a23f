package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// NotificationType 告警类型。
type NotificationType string

const (
	LowBalance      NotificationType = "low_balance"
	DataUnavailable NotificationType = "data_unavailable"
)

// ErrorType classifies logged failures.
type ErrorType string

const (
	ErrorNetwork    ErrorType = "network"
	ErrorPermission ErrorType = "permission"
	ErrorAPI        ErrorType = "api"
	ErrorUnknown    ErrorType = "unknown"
)

// Account is one monitored utility account.
type Account struct {
	Number string `json:"number" yaml:"number"`
	Name   string `json:"name" yaml:"name"`
}

// DisplayName falls back to the account number when no name is set.
func (a Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Number
}

// NotificationRecord identifies one delivered alert.
type NotificationRecord struct {
	ID        string           `json:"id"`
	AccountNo string           `json:"accountNo"`
	Type      NotificationType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Balance   *decimal.Decimal `json:"balance,omitempty"`
	Threshold *decimal.Decimal `json:"threshold,omitempty"`
	Notified  bool             `json:"notified"`
}

// DailySummary 是某一天 (UTC+6) 的通知账本。
type DailySummary struct {
	Date          string               `json:"date"`
	Notifications []NotificationRecord `json:"notifications"`
	LastCheckTime *time.Time           `json:"lastCheckTime,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (s DailySummary) Clone() DailySummary {
	out := s
	out.Notifications = append([]NotificationRecord(nil), s.Notifications...)
	if s.LastCheckTime != nil {
		ts := *s.LastCheckTime
		out.LastCheckTime = &ts
	}
	return out
}

// QueuedNotification is a delivery awaiting retry.
type QueuedNotification struct {
	ID         string            `json:"id"`
	AccountNo  string            `json:"accountNo"`
	Type       NotificationType  `json:"type"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	RetryCount int               `json:"retryCount"`
	MaxRetries int               `json:"maxRetries"`
	Data       map[string]string `json:"data,omitempty"`
}

// ErrorEntry is one diagnostic log line.
type ErrorEntry struct {
	ID         string            `json:"id"`
	Type       ErrorType         `json:"type"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	AccountNo  string            `json:"accountNo,omitempty"`
	RetryCount int               `json:"retryCount"`
	MaxRetries int               `json:"maxRetries"`
	Context    map[string]string `json:"context,omitempty"`
}

// Alert is the transient result of evaluating one account.
type Alert struct {
	AccountNo   string
	AccountName string
	Type        NotificationType
	Balance     *decimal.Decimal
	Threshold   *decimal.Decimal
	Message     string
}

// AccountError records a per-account failure during a monitoring pass.
type AccountError struct {
	AccountNo string `json:"accountNo,omitempty"`
	Message   string `json:"message"`
}

// MonitoringResult summarises one monitoring pass.
type MonitoringResult struct {
	TotalAccounts   int
	CheckedAccounts int
	Alerts          []Alert
	Errors          []AccountError
	Timestamp       time.Time
}

// Title is the headline used when delivering this type of alert.
func (t NotificationType) Title() string {
	switch t {
	case LowBalance:
		return "Low balance alert"
	case DataUnavailable:
		return "Balance data unavailable"
	default:
		return "Balance notification"
	}
}

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Telegram 通过 Telegram Bot API 推送消息。
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger

	mu         sync.Mutex
	permission Permission
}

// NewTelegram 构造 Telegram 投递通道。
func NewTelegram(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *Telegram {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	permission := PermissionGranted
	if botToken == "" || chatID == "" {
		permission = PermissionUnsupported
	}

	return &Telegram{
		botToken:   botToken,
		chatID:     chatID,
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_telegram").Logger(),
		permission: permission,
	}
}

func (n *Telegram) Name() string { return "telegram" }

// PermissionStatus returns the last known status of the bot credentials.
func (n *Telegram) PermissionStatus() Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.permission
}

// RequestPermission 调用 getMe 校验 bot token。
func (n *Telegram) RequestPermission(ctx context.Context) (Permission, error) {
	if n.PermissionStatus() == PermissionUnsupported {
		return PermissionUnsupported, nil
	}

	url := fmt.Sprintf("%s/bot%s/getMe", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PermissionDefault, fmt.Errorf("create telegram request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return n.PermissionStatus(), fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	status := PermissionGranted
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		status = PermissionDenied
	} else if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return n.PermissionStatus(), fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	n.mu.Lock()
	n.permission = status
	n.mu.Unlock()
	return status, nil
}

// Show 调用 sendMessage API 推送文本。
func (n *Telegram) Show(ctx context.Context, title, body string, opts Options) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderText(title, body),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		n.mu.Lock()
		n.permission = PermissionDenied
		n.mu.Unlock()
		return fmt.Errorf("telegram 响应码异常: %d: %w", resp.StatusCode, ErrPermissionDenied)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("tag", opts.Tag).Msg("通知已发送 (Telegram)")
	return nil
}

func renderText(title, body string) string {
	if title == "" {
		return body
	}
	return title + "\n\n" + body
}

var _ Surface = (*Telegram)(nil)

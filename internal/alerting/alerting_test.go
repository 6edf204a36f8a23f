package alerting

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramShowSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat", srv.URL, time.Second, zerolog.Nop())
	assert.Equal(t, PermissionGranted, tg.PermissionStatus())

	require.NoError(t, tg.Show(context.Background(), "Low balance", "Account 1001: 50.00", Options{Tag: "low_balance"}))
	assert.Equal(t, "chat", received["chat_id"])
	assert.Equal(t, "Low balance\n\nAccount 1001: 50.00", received["text"])
}

func TestTelegramShowErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat", srv.URL, time.Second, zerolog.Nop())
	assert.Error(t, tg.Show(context.Background(), "t", "b", Options{}), "ok=false 应报错")

	denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer denied.Close()

	tg = NewTelegram("token", "chat", denied.URL, time.Second, zerolog.Nop())
	err := tg.Show(context.Background(), "t", "b", Options{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, PermissionDenied, tg.PermissionStatus())
}

func TestTelegramRequestPermission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/botbad/getMe") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	status, err := NewTelegram("good", "chat", srv.URL, time.Second, zerolog.Nop()).RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, status)

	status, err = NewTelegram("bad", "chat", srv.URL, time.Second, zerolog.Nop()).RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionDenied, status)

	assert.Equal(t, PermissionUnsupported, NewTelegram("", "", srv.URL, time.Second, zerolog.Nop()).PermissionStatus())
}

func TestSlackShow(t *testing.T) {
	var payload slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlack(srv.URL, "#alerts")
	err := s.Show(context.Background(), "Low balance", "body", Options{Data: map[string]string{"b": "2", "a": "1"}})
	require.NoError(t, err)

	assert.Equal(t, "#alerts", payload.Channel)
	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "Low balance", payload.Attachments[0].Title)
	require.Len(t, payload.Attachments[0].Fields, 2)
	assert.Equal(t, "a", payload.Attachments[0].Fields[0].Title)

	assert.Equal(t, PermissionUnsupported, NewSlack("", "").PermissionStatus())
}

func TestWebhookShowSigned(t *testing.T) {
	var body []byte
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Signature-256")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "secret").Show(context.Background(), "title", "body", Options{Tag: "low_balance"})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), signature)

	var decoded webhookPayload
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "balance_notification", decoded.Event)
	assert.Equal(t, "low_balance", decoded.Options.Tag)
}

func TestWebhookShowFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	assert.Error(t, NewWebhook(srv.URL, "").Show(context.Background(), "t", "b", Options{}))
}

type stubSurface struct {
	name   string
	status Permission
	err    error
	shown  int
}

func (s *stubSurface) Name() string                 { return s.name }
func (s *stubSurface) PermissionStatus() Permission { return s.status }
func (s *stubSurface) RequestPermission(context.Context) (Permission, error) {
	return s.status, nil
}
func (s *stubSurface) Show(context.Context, string, string, Options) error {
	s.shown++
	return s.err
}

func TestMultiDeliversIfAnySucceeds(t *testing.T) {
	failing := &stubSurface{name: "a", status: PermissionGranted, err: errors.New("boom")}
	working := &stubSurface{name: "b", status: PermissionGranted}
	skipped := &stubSurface{name: "c", status: PermissionDenied}

	m := NewMulti(zerolog.Nop(), failing, working, skipped, nil)
	require.NoError(t, m.Show(context.Background(), "t", "b", Options{}))
	assert.Equal(t, 1, failing.shown)
	assert.Equal(t, 1, working.shown)
	assert.Equal(t, 0, skipped.shown)
	assert.Equal(t, "a+b+c", m.Name())
}

func TestMultiFailures(t *testing.T) {
	failing := &stubSurface{name: "a", status: PermissionGranted, err: errors.New("boom")}
	assert.ErrorContains(t, NewMulti(zerolog.Nop(), failing).Show(context.Background(), "t", "b", Options{}), "boom")

	denied := &stubSurface{name: "d", status: PermissionDenied}
	assert.ErrorIs(t, NewMulti(zerolog.Nop(), denied).Show(context.Background(), "t", "b", Options{}), ErrPermissionDenied)

	empty := NewMulti(zerolog.Nop())
	assert.Equal(t, PermissionUnsupported, empty.PermissionStatus())
	assert.ErrorIs(t, empty.Show(context.Background(), "t", "b", Options{}), ErrUnsupported)
}

func TestAggregatePermission(t *testing.T) {
	assert.Equal(t, PermissionGranted, aggregate([]Permission{PermissionDenied, PermissionGranted}))
	assert.Equal(t, PermissionDefault, aggregate([]Permission{PermissionDefault, PermissionDenied}))
	assert.Equal(t, PermissionDenied, aggregate([]Permission{PermissionUnsupported, PermissionDenied}))
	assert.Equal(t, PermissionUnsupported, aggregate(nil))
}

func TestConsoleAlwaysGranted(t *testing.T) {
	c := NewConsole(zerolog.Nop())
	assert.Equal(t, PermissionGranted, c.PermissionStatus())
	assert.NoError(t, c.Show(context.Background(), "t", "b", Options{Actions: []Action{{ID: "view", Title: "View"}}}))
}

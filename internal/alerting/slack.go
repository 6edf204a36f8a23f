package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// Slack sends notifications to an incoming webhook.
type Slack struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlack creates a Slack webhook surface.
func NewSlack(webhookURL, channel string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		channel:    channel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) PermissionStatus() Permission {
	if s.webhookURL == "" {
		return PermissionUnsupported
	}
	return PermissionGranted
}

func (s *Slack) RequestPermission(context.Context) (Permission, error) {
	return s.PermissionStatus(), nil
}

func (s *Slack) Show(ctx context.Context, title, body string, opts Options) error {
	color := "#ff9900" // orange
	if opts.RequireInteraction {
		color = "#ff0000" // red
	}

	keys := make([]string, 0, len(opts.Data))
	for key := range opts.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fields := make([]slackField, 0, len(keys))
	for _, key := range keys {
		fields = append(fields, slackField{Title: key, Value: opts.Data[key], Short: true})
	}

	payload := slackPayload{
		Channel: s.channel,
		Attachments: []slackAttachment{
			{
				Color:  color,
				Title:  title,
				Text:   body,
				Fields: fields,
				Footer: "balancewatch",
				Ts:     time.Now().Unix(),
			},
		},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

var _ Surface = (*Slack)(nil)

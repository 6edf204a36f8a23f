package alerting

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Console writes notifications to the structured log. Always granted.
type Console struct {
	logger zerolog.Logger
}

// NewConsole wraps a logger as a delivery surface.
func NewConsole(logger zerolog.Logger) *Console {
	return &Console{logger: logger.With().Str("component", "alert_console").Logger()}
}

func (c *Console) Name() string { return "console" }

func (c *Console) PermissionStatus() Permission { return PermissionGranted }

func (c *Console) RequestPermission(context.Context) (Permission, error) {
	return PermissionGranted, nil
}

func (c *Console) Show(_ context.Context, title, body string, opts Options) error {
	event := c.logger.WithLevel(zerolog.WarnLevel).
		Str("title", title).
		Str("tag", opts.Tag)
	if len(opts.Actions) > 0 {
		titles := make([]string, 0, len(opts.Actions))
		for _, action := range opts.Actions {
			titles = append(titles, action.Title)
		}
		event = event.Str("actions", strings.Join(titles, ","))
	}
	event.Msg(body)
	return nil
}

var _ Surface = (*Console)(nil)

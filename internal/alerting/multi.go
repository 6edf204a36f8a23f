package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Multi fans a notification out to several surfaces. Delivery succeeds when at
// least one granted surface accepts it.
type Multi struct {
	surfaces []Surface
	logger   zerolog.Logger
}

// NewMulti combines surfaces; nil entries are skipped.
func NewMulti(logger zerolog.Logger, surfaces ...Surface) *Multi {
	kept := make([]Surface, 0, len(surfaces))
	for _, surface := range surfaces {
		if surface != nil {
			kept = append(kept, surface)
		}
	}
	return &Multi{surfaces: kept, logger: logger.With().Str("component", "alerting").Logger()}
}

func (m *Multi) Name() string {
	names := make([]string, 0, len(m.surfaces))
	for _, surface := range m.surfaces {
		names = append(names, surface.Name())
	}
	return strings.Join(names, "+")
}

// PermissionStatus is granted if any surface is granted.
func (m *Multi) PermissionStatus() Permission {
	return aggregate(m.statuses())
}

// RequestPermission asks every surface and aggregates the answers.
func (m *Multi) RequestPermission(ctx context.Context) (Permission, error) {
	statuses := make([]Permission, 0, len(m.surfaces))
	var errs []error
	for _, surface := range m.surfaces {
		status, err := surface.RequestPermission(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", surface.Name(), err))
		}
		statuses = append(statuses, status)
	}
	status := aggregate(statuses)
	if status == PermissionGranted {
		for _, err := range errs {
			m.logger.Warn().Err(err).Msg("permission request failed on one surface")
		}
		return status, nil
	}
	return status, errors.Join(errs...)
}

// Show delivers to every granted surface.
func (m *Multi) Show(ctx context.Context, title, body string, opts Options) error {
	delivered := 0
	var errs []error
	for _, surface := range m.surfaces {
		if surface.PermissionStatus() != PermissionGranted {
			continue
		}
		if err := surface.Show(ctx, title, body, opts); err != nil {
			m.logger.Warn().Err(err).Str("surface", surface.Name()).Msg("delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", surface.Name(), err))
			continue
		}
		delivered++
	}

	if delivered > 0 {
		return nil
	}
	if len(errs) == 0 {
		return PermissionError(m.PermissionStatus())
	}
	return errors.Join(errs...)
}

func (m *Multi) statuses() []Permission {
	out := make([]Permission, 0, len(m.surfaces))
	for _, surface := range m.surfaces {
		out = append(out, surface.PermissionStatus())
	}
	return out
}

func aggregate(statuses []Permission) Permission {
	result := PermissionUnsupported
	for _, status := range statuses {
		switch status {
		case PermissionGranted:
			return PermissionGranted
		case PermissionDefault:
			result = PermissionDefault
		case PermissionDenied:
			if result != PermissionDefault {
				result = PermissionDenied
			}
		}
	}
	return result
}

var _ Surface = (*Multi)(nil)

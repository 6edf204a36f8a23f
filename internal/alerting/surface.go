package alerting

import (
	"context"
	"errors"
)

// Permission 描述投递通道的授权状态。
type Permission string

const (
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
	PermissionDefault     Permission = "default"
	PermissionUnsupported Permission = "unsupported"
)

var (
	// ErrUnsupported is returned when no delivery surface is available.
	ErrUnsupported = errors.New("alerting: delivery surface unsupported")
	// ErrPermissionDenied is returned when the surface has not been granted.
	ErrPermissionDenied = errors.New("alerting: delivery permission not granted")
)

// Action is a button offered alongside a notification.
type Action struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Options carry presentation hints for Show.
type Options struct {
	Tag                string            `json:"tag,omitempty"`
	RequireInteraction bool              `json:"requireInteraction,omitempty"`
	Actions            []Action          `json:"actions,omitempty"`
	Data               map[string]string `json:"data,omitempty"`
}

// Surface displays a notification to the user.
type Surface interface {
	Name() string
	PermissionStatus() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Show(ctx context.Context, title, body string, opts Options) error
}

// PermissionError maps a non-granted status onto the matching sentinel.
func PermissionError(status Permission) error {
	switch status {
	case PermissionGranted:
		return nil
	case PermissionUnsupported:
		return ErrUnsupported
	default:
		return ErrPermissionDenied
	}
}

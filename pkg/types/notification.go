package types

import "time"

type NotificationKind string

const (
	NOTIFICATION_SUCCESS NotificationKind = "success"
	NOTIFICATION_ERROR   NotificationKind = "error"
	NOTIFICATION_WARNING NotificationKind = "warning"
	NOTIFICATION_INFO    NotificationKind = "info"
)

// Notification is an ephemeral user facing message. A zero Duration means
// the notification stays until removed.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title,omitempty"`
	Message   string           `json:"message"`
	Duration  time.Duration    `json:"duration"`
	CreatedAt time.Time        `json:"created_at"`
}

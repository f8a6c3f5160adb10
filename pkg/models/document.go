package models

import "time"

// TitlesDocument is the per-user cloud copy of the collection.
type TitlesDocument struct {
	Titles   []Title   `json:"titles"`
	LastSync time.Time `json:"lastSync"`
	UserID   string    `json:"userId"`
}

// NotificationPreference drives the weekly release reminders.
type NotificationPreference struct {
	Enabled bool `json:"enabled"`
	Hour    int  `json:"hour"`
	Minute  int  `json:"minute"`
}

// DefaultNotificationPreference is 08:00, disabled.
func DefaultNotificationPreference() NotificationPreference {
	return NotificationPreference{Enabled: false, Hour: 8, Minute: 0}
}

// Valid checks the hour and minute ranges.
func (p NotificationPreference) Valid() bool {
	return p.Hour >= 0 && p.Hour <= 23 && p.Minute >= 0 && p.Minute <= 59
}

// UserProfile mirrors the account row exposed by the cloud API.
type UserProfile struct {
	ID                    string     `json:"id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	PendingDeletion       bool       `json:"isPendingDeletion"`
	DeletionScheduledDate *time.Time `json:"deletionScheduledDate"`
}

package sync

import "time"

const (
	TitlesSyncedType  = "titles.synced"
	TitleUpdatedType  = "title.updated"
	TitleDeletedType  = "title.deleted"
	AccountDeleteType = "account.deleted"
)

// TitlesEvent tells other devices of the same account that the cloud
// copy changed and a sync would pull something new.
type TitlesEvent struct {
	Type    string    `json:"type"`
	UserID  string    `json:"user_id"`
	TitleID string    `json:"title_id,omitempty"`
	Count   int       `json:"count,omitempty"`
	Source  string    `json:"source,omitempty"` // "http", "grpc"
	At      time.Time `json:"at"`
}

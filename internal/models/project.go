package models

import "time"

// Project represents a tracked project whose issues can be mirrored
// to a remote backend.
type Project struct {
	ID          string
	Name        string
	Path        string
	Description string
	Backend     string // remote backend name, e.g. "github"
	RemoteOwner string
	RemoteRepo  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

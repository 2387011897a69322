package models

import "time"

// MilestoneState represents whether a milestone is open or closed.
type MilestoneState string

const (
	MilestoneStateOpen   MilestoneState = "open"
	MilestoneStateClosed MilestoneState = "closed"
)

// Milestone represents a grouping of issues with a target date.
type Milestone struct {
	ID          string
	Title       string
	Description string
	State       MilestoneState
	DueDate     *time.Time
	RemoteID    string // backend-specific identifier, "" if local-only
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

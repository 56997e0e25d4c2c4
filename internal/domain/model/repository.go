package model

import "time"

// Repository is a GitHub repository as listed for a user.
type Repository struct {
	Name          string
	FullName      string
	DefaultBranch string
	IsFork        bool
	Stars         int
	UpdatedAt     time.Time
}

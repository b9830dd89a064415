package models

import "time"

// UserAccount is the per-user record kept by the account store. IsBlocked is
// a cached projection of "the user holds at least one blocked task" and is
// recomputed by the blocking cascade.
type UserAccount struct {
	Username           string     `yaml:"username" json:"username"`
	Role               string     `yaml:"role,omitempty" json:"role,omitempty"`
	IsBlocked          bool       `yaml:"is_blocked" json:"is_blocked"`
	BlockedReason      string     `yaml:"blocked_reason,omitempty" json:"blocked_reason,omitempty"`
	BlockedAt          *time.Time `yaml:"blocked_at,omitempty" json:"blocked_at,omitempty"`
	LastBlockingUpdate *time.Time `yaml:"last_blocking_update,omitempty" json:"last_blocking_update,omitempty"`
	CreatedAt          time.Time  `yaml:"created_at" json:"created_at"`
}

// OverdueSummary counts a user's open tasks by overdue state.
type OverdueSummary struct {
	Overdue int `json:"overdue"`
	InGrace int `json:"in_grace"`
	Blocked int `json:"blocked"`
}

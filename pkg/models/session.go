package models

import "time"

// SessionRecord is a client session persisted on disk. Values holds the
// session's key-value storage, e.g. the self-unblock grace period start.
type SessionRecord struct {
	ID        string            `yaml:"id" json:"id"`
	User      string            `yaml:"user" json:"user"`
	CreatedAt time.Time         `yaml:"created_at" json:"created_at"`
	Values    map[string]string `yaml:"values,omitempty" json:"values,omitempty"`
}

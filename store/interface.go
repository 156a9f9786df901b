package store

import (
	"context"
	"errors"
)

// ErrUnknownGroup is returned by every operation against a group that was
// never registered.
var ErrUnknownGroup = errors.New("group is not registered")

// ConfigStore is the per-group configuration and audit surface the
// moderation core depends on. Reads and writes are atomic per group.
type ConfigStore interface {
	PolicyReader
	PolicyWriter
	AuditLog
	Membership
}

type PolicyReader interface {
	GetPolicy(ctx context.Context, groupID int64) (GroupPolicy, error)
}

type PolicyWriter interface {
	CreateGroup(ctx context.Context, groupID int64, name string, adminID int64) error
	UpdatePolicy(ctx context.Context, groupID int64, update PolicyUpdate) error
}

type AuditLog interface {
	// AppendLog records a moderation action, evicting the oldest entry once
	// the group's log exceeds LogCap.
	AppendLog(ctx context.Context, groupID int64, entry LogEntry) error
	// History returns the group's log, newest first.
	History(ctx context.Context, groupID int64) ([]LogEntry, error)
}

type Membership interface {
	IsAdmin(ctx context.Context, groupID int64, userID int64) (bool, error)
	IsModerator(ctx context.Context, groupID int64, username string) (bool, error)
}

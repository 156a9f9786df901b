package store

import (
	"time"
)

// Sensitivity is a group's configured strictness for spam classification.
type Sensitivity string

const (
	SensitivityLow      Sensitivity = "low"
	SensitivityModerate Sensitivity = "moderate"
	SensitivityHigh     Sensitivity = "high"
)

func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityLow, SensitivityModerate, SensitivityHigh:
		return true
	}
	return false
}

// GroupPolicy is everything a group's admins have configured about
// moderation. It is read fresh for every message; callers must not cache it
// across messages since admins change it live.
type GroupPolicy struct {
	BlacklistUsers    []string
	BlacklistKeywords []string
	WhitelistUsers    []string
	Moderators        []string

	SpamSensitivity Sensitivity
	AutoDelete      bool
	NotifyAdmins    bool
	NotifyUsers     bool
	PauseScan       bool

	// File extensions and URL prefixes the group has opted out of scanning.
	SkipFileExts    []string
	SkipURLPrefixes []string
}

// DefaultPolicy is what a newly registered group starts with.
func DefaultPolicy() GroupPolicy {
	return GroupPolicy{
		SpamSensitivity: SensitivityModerate,
		AutoDelete:      false,
		NotifyAdmins:    true,
		NotifyUsers:     true,
	}
}

// LogEntry is one audit record of a moderation action taken in a group.
type LogEntry struct {
	Timestamp      time.Time
	Action         string
	User           string
	MessageExcerpt string
}

// LogCap is how many audit entries a group keeps; beyond this the oldest are
// evicted.
const LogCap = 50

// PolicyUpdate is a field-wise change to a group's policy. Nil/empty fields
// are left untouched, so one update can change a single knob.
type PolicyUpdate struct {
	AutoDelete   *bool
	NotifyAdmins *bool
	NotifyUsers  *bool
	PauseScan    *bool
	Sensitivity  *Sensitivity

	AddBlacklistUser       string
	RemoveBlacklistUser    string
	AddBlacklistKeyword    string
	RemoveBlacklistKeyword string
	AddWhitelistUser       string
	AddModerator           string
	AddSkipFileExt         string
	AddSkipURLPrefix       string
}

package moderation

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agentivy/sentinel/store"
)

// Action is what happens to a message.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionFlag   Action = "flag"
	ActionDelete Action = "delete"
)

// Reasons attached to Flag/Delete decisions. These end up in notifications
// and the group's audit log.
const (
	ReasonBlacklisted = "blacklisted sender or keyword"
	ReasonLink        = "suspicious link"
	ReasonFile        = "malicious file"
	ReasonSpam        = "spam content"
)

// Decision is the outcome of evaluating one message. A Flag or Delete always
// carries at least one reason; an Allow never does.
type Decision struct {
	Action  Action
	Reasons []string
}

func allow() Decision {
	return Decision{Action: ActionAllow}
}

// Evaluate applies a group's policy to the signals collected for a message.
// It is a pure function: same inputs, same decision.
func Evaluate(signals []Signal, policy store.GroupPolicy, sender, text string) Decision {
	if policy.PauseScan {
		return allow()
	}
	if Blacklisted(policy, sender, text) {
		return Decision{Action: ActionDelete, Reasons: []string{ReasonBlacklisted}}
	}
	if Whitelisted(policy, sender) {
		return allow()
	}

	var reasons []string
	threshold := SpamThreshold(policy.SpamSensitivity)
	for _, sig := range signals {
		switch sig.Kind {
		case CheckLink:
			if len(sig.Threats) > 0 {
				reasons = append(reasons, ReasonLink)
			}
		case CheckFile:
			if sig.Verdict.Hit() {
				reasons = append(reasons, ReasonFile)
			}
		case CheckSpam:
			if sig.Score > threshold {
				reasons = append(reasons, ReasonSpam)
			}
		}
	}

	if len(reasons) == 0 {
		return allow()
	}
	if policy.AutoDelete {
		return Decision{Action: ActionDelete, Reasons: reasons}
	}
	return Decision{Action: ActionFlag, Reasons: reasons}
}

// Blacklisted reports whether the sender is banned or the text contains a
// banned keyword (case-insensitive, whole words only). The pipeline checks
// this before any scan work so blacklisted messages never spend quota.
func Blacklisted(policy store.GroupPolicy, sender, text string) bool {
	for _, banned := range policy.BlacklistUsers {
		if strings.EqualFold(banned, sender) {
			return true
		}
	}
	if len(policy.BlacklistKeywords) == 0 {
		return false
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, word := range words {
		for _, keyword := range policy.BlacklistKeywords {
			if word == strings.ToLower(keyword) {
				return true
			}
		}
	}
	return false
}

// Whitelisted reports whether the sender is exempt from scanning.
func Whitelisted(policy store.GroupPolicy, sender string) bool {
	for _, trusted := range policy.WhitelistUsers {
		if strings.EqualFold(trusted, sender) {
			return true
		}
	}
	return false
}

// excerptLen bounds how much message text lands in the audit log.
const excerptLen = 100

// LogFor turns a Flag/Delete decision into its audit entry. Allow decisions
// produce nothing.
func LogFor(decision Decision, msg Message, now time.Time) (store.LogEntry, bool) {
	var action string
	switch decision.Action {
	case ActionDelete:
		action = "Removed"
	case ActionFlag:
		action = "Flagged"
	default:
		return store.LogEntry{}, false
	}

	excerpt := msg.Text
	if len(excerpt) > excerptLen {
		cut := excerptLen
		// Never split a multi-byte rune.
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut]
	}
	return store.LogEntry{
		Timestamp:      now,
		Action:         action,
		User:           msg.Sender,
		MessageExcerpt: excerpt,
	}, true
}

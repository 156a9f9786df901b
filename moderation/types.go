package moderation

import (
	"github.com/agentivy/sentinel/scan"
	"github.com/agentivy/sentinel/store"
)

// Message is one inbound group message to evaluate. Text carries the body,
// or the caption when an attachment is present.
type Message struct {
	GroupID    int64
	MessageID  int64
	Sender     string
	SenderID   int64
	Text       string
	Attachment *Attachment
}

// Attachment is a file that arrived with the message.
type Attachment struct {
	Filename string
	Content  []byte
}

// CheckKind names one of the three independent checks run per message.
type CheckKind string

const (
	CheckLink CheckKind = "link"
	CheckFile CheckKind = "file"
	CheckSpam CheckKind = "spam"
)

// Signal is one check's contribution to the decision. Exactly one of the
// variant fields is meaningful, selected by Kind. The absence of a signal
// (check skipped or failed) is not the same as a clean signal.
type Signal struct {
	Kind CheckKind

	// CheckLink
	URL     string
	Threats []string

	// CheckFile
	Verdict scan.Verdict

	// CheckSpam
	Score float64
}

func LinkSignal(url string, threats []string) Signal {
	return Signal{Kind: CheckLink, URL: url, Threats: threats}
}

func FileSignal(verdict scan.Verdict) Signal {
	return Signal{Kind: CheckFile, Verdict: verdict}
}

func SpamSignal(score float64) Signal {
	return Signal{Kind: CheckSpam, Score: score}
}

// Result is what the aggregator hands to the policy engine: whichever
// signals could be produced, plus which checks failed and why. Failures are
// for audit and (when user-actionable) notifications, never for aborting the
// evaluation.
type Result struct {
	Signals  []Signal
	Failures map[CheckKind]error
}

// spamThresholds maps a group's sensitivity to the classifier score needed
// to flag a message. Moderate being stricter than high is intentional and
// shipped that way; changing the mapping needs product sign-off.
var spamThresholds = map[store.Sensitivity]float64{
	store.SensitivityLow:      0.5,
	store.SensitivityModerate: 0.8,
	store.SensitivityHigh:     0.7,
}

// SpamThreshold resolves a sensitivity to its score threshold, falling back
// to moderate for anything unrecognised.
func SpamThreshold(s store.Sensitivity) float64 {
	if t, ok := spamThresholds[s]; ok {
		return t
	}
	return spamThresholds[store.SensitivityModerate]
}

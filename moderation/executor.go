package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/agentivy/sentinel/scan"
	"github.com/agentivy/sentinel/store"
)

var moderationDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "moderation",
		Name:      "decisions_total",
		Help:      "Total number of moderation decisions by action",
	},
	[]string{"action"},
)

var registerModerationMetrics sync.Once

func init() {
	registerModerationMetrics.Do(func() {
		prometheus.MustRegister(moderationDecisions)
	})
}

// ErrAlreadyGone is what an ActionSink returns when the target message no
// longer exists, e.g. another moderator got there first.
var ErrAlreadyGone = errors.New("message is already gone")

// ActionSink is the slice of the chat transport the executor needs.
type ActionSink interface {
	DeleteMessage(ctx context.Context, groupID, messageID int64) error
	SendMessage(ctx context.Context, groupID int64, text string) error
}

// Executor applies a decision's side effects. Order is fixed: notify first,
// then delete, so the notification can still reference the offending
// message.
type Executor struct {
	sink  ActionSink
	audit store.AuditLog
}

func NewExecutor(sink ActionSink, audit store.AuditLog) *Executor {
	return &Executor{sink: sink, audit: audit}
}

// Execute carries out the decision for a message and records it in the
// group's audit log. "Already gone" answers from the transport count as
// success.
func (e *Executor) Execute(ctx context.Context, msg Message, policy store.GroupPolicy, decision Decision, failures map[CheckKind]error) error {
	moderationDecisions.WithLabelValues(string(decision.Action)).Inc()

	e.notifyActionableFailures(ctx, msg, policy, failures)

	if decision.Action == ActionAllow {
		return nil
	}

	if policy.NotifyAdmins || policy.NotifyUsers {
		if err := e.sink.SendMessage(ctx, msg.GroupID, notificationText(decision)); err != nil && !errors.Is(err, ErrAlreadyGone) {
			// A lost notification must not stop the deletion.
			log.WithError(err).WithField("group_id", msg.GroupID).Warn("Failed to send moderation notice")
		}
	}

	if decision.Action == ActionDelete {
		if err := e.sink.DeleteMessage(ctx, msg.GroupID, msg.MessageID); err != nil && !errors.Is(err, ErrAlreadyGone) {
			return fmt.Errorf("deleting message %d: %w", msg.MessageID, err)
		}
	}

	if entry, ok := LogFor(decision, msg, time.Now().UTC()); ok {
		if err := e.audit.AppendLog(ctx, msg.GroupID, entry); err != nil {
			log.WithError(err).WithField("group_id", msg.GroupID).Error("Failed to append audit log entry")
		}
	}
	return nil
}

// notifyActionableFailures tells the sender about problems only they can
// fix, like a password-protected archive. Upstream failures stay internal.
func (e *Executor) notifyActionableFailures(ctx context.Context, msg Message, policy store.GroupPolicy, failures map[CheckKind]error) {
	if !policy.NotifyUsers {
		return
	}
	for _, err := range failures {
		if !scan.UserActionable(err) {
			continue
		}
		text := "⚠️ This file could not be scanned"
		switch {
		case errors.Is(err, scan.ErrPasswordProtected):
			text += ": it is password protected. Re-upload it without a password to have it checked."
		case errors.Is(err, scan.ErrUnsupportedType):
			text += ": this file type is not supported."
		}
		if err := e.sink.SendMessage(ctx, msg.GroupID, text); err != nil && !errors.Is(err, ErrAlreadyGone) {
			log.WithError(err).WithField("group_id", msg.GroupID).Warn("Failed to send scan notice")
		}
	}
}

func notificationText(decision Decision) string {
	if decision.Action == ActionDelete {
		return "⚠️ This message was flagged for suspicious content and has been removed."
	}
	var b strings.Builder
	b.WriteString("⚠️ This message was flagged for suspicious content\n\nReason:\n")
	for _, reason := range decision.Reasons {
		fmt.Fprintf(&b, "- %s\n", reason)
	}
	b.WriteString("\nRefrain from interacting!")
	return b.String()
}

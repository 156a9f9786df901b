package moderation

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/agentivy/sentinel/store"
)

// Moderator is the end-to-end pipeline for one message: policy lookup,
// short-circuits, signal aggregation, decision, execution.
type Moderator struct {
	store    store.ConfigStore
	agg      *Aggregator
	executor *Executor
}

func NewModerator(cfgStore store.ConfigStore, agg *Aggregator, executor *Executor) *Moderator {
	return &Moderator{
		store:    cfgStore,
		agg:      agg,
		executor: executor,
	}
}

// ProcessMessage evaluates and acts on one message, returning the decision
// taken. Policy is read fresh per message; admins change it live.
//
// Blacklist and whitelist are decided before any scan work: a banned
// message is deleted without spending scan quota, a trusted sender skips
// scanning entirely.
func (m *Moderator) ProcessMessage(ctx context.Context, msg Message) (Decision, error) {
	policy, err := m.store.GetPolicy(ctx, msg.GroupID)
	if err != nil {
		return Decision{}, fmt.Errorf("reading group policy: %w", err)
	}

	if policy.PauseScan {
		return allow(), nil
	}

	if Blacklisted(policy, msg.Sender, msg.Text) {
		decision := Decision{Action: ActionDelete, Reasons: []string{ReasonBlacklisted}}
		if err := m.executor.Execute(ctx, msg, policy, decision, nil); err != nil {
			return decision, err
		}
		return decision, nil
	}

	if Whitelisted(policy, msg.Sender) {
		return allow(), nil
	}

	result := m.agg.Check(ctx, msg, policy)
	decision := Evaluate(result.Signals, policy, msg.Sender, msg.Text)

	log.WithFields(log.Fields{
		"group_id": msg.GroupID,
		"action":   decision.Action,
		"signals":  len(result.Signals),
		"failed":   len(result.Failures),
	}).Debug("Message evaluated")

	if err := m.executor.Execute(ctx, msg, policy, decision, result.Failures); err != nil {
		return decision, err
	}
	return decision, nil
}

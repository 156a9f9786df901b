package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agentivy/sentinel/moderation"
)

// actionEvent is the wire shape of one outbound moderation action.
type actionEvent struct {
	Type      string `json:"type"`
	GroupID   int64  `json:"group_id"`
	MessageID int64  `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// CallbackSink delivers moderation actions by POSTing them to the configured
// callback URL; the chat transport on the other side applies them. With no
// URL configured, actions are logged and dropped (dry-run mode).
type CallbackSink struct {
	client *http.Client
	url    string
}

var _ moderation.ActionSink = (*CallbackSink)(nil)

func NewCallbackSink(url string) *CallbackSink {
	return &CallbackSink{
		client: &http.Client{Timeout: 30 * time.Second},
		url:    url,
	}
}

func (s *CallbackSink) DeleteMessage(ctx context.Context, groupID, messageID int64) error {
	return s.post(ctx, actionEvent{
		Type:      "delete_message",
		GroupID:   groupID,
		MessageID: messageID,
	})
}

func (s *CallbackSink) SendMessage(ctx context.Context, groupID int64, text string) error {
	return s.post(ctx, actionEvent{
		Type:    "send_message",
		GroupID: groupID,
		Text:    text,
	})
}

func (s *CallbackSink) post(ctx context.Context, event actionEvent) error {
	if s.url == "" {
		log.WithFields(log.Fields{
			"type":     event.Type,
			"group_id": event.GroupID,
		}).Info("No action callback configured, dropping action")
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding action: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering %s: %w", event.Type, err)
	}
	defer resp.Body.Close() // nolint: errcheck

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The message is no longer there to act on.
		return fmt.Errorf("callback returned HTTP %d: %w", resp.StatusCode, moderation.ErrAlreadyGone)
	default:
		return fmt.Errorf("callback returned HTTP %d for %s", resp.StatusCode, event.Type)
	}
}

package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"giu-carpool/pkg/logger"
)

// HTTPSink implements service.NotificationSink against the notification
// service's REST endpoints. A non-2xx response is an error; the caller
// decides whether it is retried.
type HTTPSink struct {
	baseURL string
	client  *http.Client
	log     logger.Logger
}

func NewHTTPSink(baseURL string, log logger.Logger) *HTTPSink {
	return &HTTPSink{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type message struct {
	Type    string                 `json:"type"`
	To      []string               `json:"to"`
	Subject string                 `json:"subject"`
	Payload map[string]interface{} `json:"payload"`
}

func (s *HTTPSink) NotifyRideReminder(ctx context.Context, to []string, subject string, payload map[string]interface{}) error {
	return s.post(ctx, "/notifications/notifyRideReminder", message{
		Type:    "reminder",
		To:      to,
		Subject: subject,
		Payload: payload,
	})
}

func (s *HTTPSink) NotifyRideUpdate(ctx context.Context, to []string, subject string, payload map[string]interface{}) error {
	return s.post(ctx, "/notifications/notifyRideUpdate", message{
		Type:    "statusUpdate",
		To:      to,
		Subject: subject,
		Payload: payload,
	})
}

func (s *HTTPSink) NotifyCancelRide(ctx context.Context, to []string, subject string, payload map[string]interface{}) error {
	return s.post(ctx, "/notifications/notifyCancelRide", message{
		Type:    "cancellation",
		To:      to,
		Subject: subject,
		Payload: payload,
	})
}

func (s *HTTPSink) post(ctx context.Context, path string, msg message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification sink unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification sink returned status %d", resp.StatusCode)
	}

	s.log.WithFields(logger.LogFields{
		"endpoint":   path,
		"recipients": len(msg.To),
	}).Debug("notification_sent", "Notification accepted by sink")
	return nil
}

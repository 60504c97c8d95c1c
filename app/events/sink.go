// Package events records security-relevant moments of the session
// lifecycle: login success and failure, logout-all, password reset request
// and completion. Recording is fire-and-forget; a sink failure must never
// fail the operation that produced the event.
package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medhire/auth-service/app/queue"
)

const (
	TypeLoginSucceeded       = "login.succeeded"
	TypeLoginFailed          = "login.failed"
	TypeLoginBlocked         = "login.blocked"
	TypeRefreshRevoked       = "refresh.revoked_on_gate_failure"
	TypeLogoutAll            = "logout.all"
	TypePasswordResetRequest = "password_reset.requested"
	TypePasswordResetDone    = "password_reset.completed"
	TypeUnknownEmail         = "login.unknown_email"
)

type Event struct {
	Type      string    `json:"type"`
	UserID    uint64    `json:"user_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Sink accepts security events. Record never returns an error; failures are
// the sink's problem to log.
type Sink interface {
	Record(event Event)
}

// LogSink writes events to the structured log. It is the default sink and
// the fallback when no broker is configured.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) Record(event Event) {
	logrus.WithFields(logrus.Fields{
		"event_type": event.Type,
		"user_id":    event.UserID,
		"email":      event.Email,
		"ip_address": event.IPAddress,
		"detail":     event.Detail,
	}).Info("security_event")
}

// AMQPSink publishes events to a durable queue so downstream audit
// consumers can process them without touching this service's database.
type AMQPSink struct {
	url     string
	timeout time.Duration
}

func NewAMQPSink(url string) *AMQPSink {
	return &AMQPSink{url: url, timeout: 5 * time.Second}
}

func (s *AMQPSink) Record(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := queue.PublishJSON(ctx, s.url, queue.SecurityEventsQueue, event); err != nil {
		logrus.WithError(err).WithField("event_type", event.Type).Warn("failed to publish security event")
	}
}

// Package mailer hands password-reset emails to the platform's delivery
// pipeline. Dispatch is best-effort: a failure is logged and swallowed,
// never surfaced to the user who requested the reset.
package mailer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medhire/auth-service/app/queue"
)

type PasswordResetEmail struct {
	To        string    `json:"to"`
	RawToken  string    `json:"raw_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Dispatcher interface {
	SendPasswordResetEmail(ctx context.Context, email PasswordResetEmail) error
}

// AMQPDispatcher enqueues email jobs for the notification service.
type AMQPDispatcher struct {
	url string
}

func NewAMQPDispatcher(url string) *AMQPDispatcher {
	return &AMQPDispatcher{url: url}
}

func (d *AMQPDispatcher) SendPasswordResetEmail(ctx context.Context, email PasswordResetEmail) error {
	return queue.PublishJSON(ctx, d.url, queue.PasswordResetEmailQueue, email)
}

// LogDispatcher is used when no broker is configured; it records that an
// email would have been sent without leaking the token.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher {
	return &LogDispatcher{}
}

func (d *LogDispatcher) SendPasswordResetEmail(_ context.Context, email PasswordResetEmail) error {
	logrus.WithFields(logrus.Fields{
		"to":         email.To,
		"expires_at": email.ExpiresAt,
	}).Info("password reset email dispatch skipped: no broker configured")
	return nil
}

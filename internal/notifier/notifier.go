// Package notifier emits fire-and-forget notification intents on
// selected workflow transitions. Delivery (email, chat, PDF) happens
// outside this core.
package notifier

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Intent describes one downstream notification request.
type Intent struct {
	Kind       string
	ProtocolID snowflake.ID
	SubjectID  snowflake.ID
	Period     string
	Message    string
}

const (
	KindResendSubjectLink = "resend_subject_link"
	KindPaymentRecorded   = "payment_recorded"
)

type Notifier interface {
	Notify(ctx context.Context, intent Intent)
}

type NoOpNotifier struct{}

func (NoOpNotifier) Notify(ctx context.Context, intent Intent) {}

package notifier

import (
	"context"

	"go.uber.org/zap"
)

// LoggingNotifier records intents as structured log lines. The default
// deployment has delivery handled by an external dispatcher tailing
// these events.
type LoggingNotifier struct {
	log *zap.Logger
}

func NewLoggingNotifier(log *zap.Logger) *LoggingNotifier {
	return &LoggingNotifier{log: log.Named("notifier")}
}

func (n *LoggingNotifier) Notify(ctx context.Context, intent Intent) {
	_ = ctx
	n.log.Info("notification intent",
		zap.String("kind", intent.Kind),
		zap.String("protocol_id", intent.ProtocolID.String()),
		zap.String("subject_id", intent.SubjectID.String()),
		zap.String("period", intent.Period),
	)
}

package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogDispatcher writes messages to the context logger instead of delivering
// them. Used when no broker is configured.
type LogDispatcher struct{}

func (LogDispatcher) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().
		Str("channel", string(msg.Channel)).
		Str("recipient", msg.Recipient).
		Str("subject", msg.Subject).
		Msg("notification")
	return nil
}

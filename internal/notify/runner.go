package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner sends messages in the background. Failures are logged and never
// reported back to the caller.
type Runner struct {
	dispatcher Dispatcher
	timeout    time.Duration
	wg         sync.WaitGroup
}

func NewRunner(d Dispatcher, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{dispatcher: d, timeout: timeout}
}

// Go dispatches msgs asynchronously. The request context's values (logger,
// request id) are kept but its cancellation is not.
func (r *Runner) Go(ctx context.Context, msgs ...Message) {
	if r == nil || len(msgs) == 0 {
		return
	}
	base := context.WithoutCancel(ctx)

	for _, msg := range msgs {
		r.wg.Add(1)
		go func(m Message) {
			defer r.wg.Done()

			sendCtx, cancel := context.WithTimeout(base, r.timeout)
			defer cancel()

			if err := r.dispatcher.Send(sendCtx, m); err != nil {
				zerolog.Ctx(base).Warn().Err(err).
					Str("code", ErrorCode(err)).
					Str("channel", string(m.Channel)).
					Str("recipient", m.Recipient).
					Msg("notification dispatch failed")
			}
		}(msg)
	}
}

// Wait blocks until every message handed to Go has been attempted.
func (r *Runner) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

package eventloop

import (
	"context"
	"errors"
	"time"
)

// ErrStuck is the error Monitor sends on its channel when the marker
// does not return within maxDelay (spec §4.1 "Liveness monitoring").
var ErrStuck = errors.New("event loop stuck")

// Monitor repeatedly has self post a marker to itself and starts a
// maxDelay timeout on helper; the next marker is posted as soon as the
// previous one returns or its timeout fires. Each time the timeout wins,
// ErrStuck is sent on the returned channel (dropped if the previous one
// is still unread) and monitoring continues — an explicitly best-effort
// watchdog, not a circuit breaker. The channel is closed when ctx is done.
func Monitor(ctx context.Context, self, helper Loop, maxDelay time.Duration) <-chan error {
	out := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(out)
				return
			default:
			}

			marker := make(chan struct{}, 1)
			self.Post(0, func(context.Context) {
				select {
				case marker <- struct{}{}:
				default:
				}
			})

			timeout := helper.Async(maxDelay, func(context.Context) (any, error) {
				return nil, nil
			})

			select {
			case <-marker:
				timeout.Cancel()
			case <-timeout.Done():
				select {
				case out <- ErrStuck:
				default:
				}
			case <-ctx.Done():
				timeout.Cancel()
				close(out)
				return
			}
		}
	}()
	return out
}

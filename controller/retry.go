package controller

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/tinkerbell/aqtctl/api/v1alpha1"
	"github.com/tinkerbell/aqtctl/pkg/zaci"
)

// TriggerFunc starts an asynchronous operation on the appliance. It returns the HTTP status
// code and the logical status of the response. err is only set when no usable response was received.
type TriggerFunc func(ctx context.Context) (statusCode int, status string, err error)

// Retrier absorbs the transient unavailability of the appliance back end when triggering
// asynchronous operations shortly after a (re)start.
type Retrier struct {
	attempts int
	delay    time.Duration
	clock    clock.Clock
	log      logr.Logger
}

// NewRetrier returns a Retrier using the trigger budget of opts.
func NewRetrier(log logr.Logger, opts Options) *Retrier {
	opts = opts.withDefaults()

	return &Retrier{
		attempts: opts.TriggerAttempts,
		delay:    opts.TriggerDelay,
		clock:    opts.Clock,
		log:      log.WithName("retrier"),
	}
}

// Trigger calls op until it answers 200 with status TRIGGERED. Transport errors, other status
// codes and other logical statuses are retried; any other error, including the end of ctx,
// is returned at once.
func (r *Retrier) Trigger(ctx context.Context, operation string, op TriggerFunc) (string, error) {
	log := r.log.WithValues("operation", operation)
	last := &TriggerError{Operation: operation, Attempts: r.attempts}

	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, r.clock, r.delay); err != nil {
				return "", fmt.Errorf("%s: %w", operation, err)
			}
		} else if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%s: %w", operation, err)
		}
		triggerAttempts.WithLabelValues(operation).Inc()

		code, status, err := op(ctx)
		switch {
		case err != nil && !zaci.IsTransport(err):
			return "", err
		case err != nil:
			log.Info("trigger failed, retrying", "attempt", attempt, "error", err.Error())
			last.StatusCode, last.Status, last.Err = 0, "", err
		case code != http.StatusOK:
			log.Info("trigger returned unexpected status code, retrying", "attempt", attempt, "statusCode", code)
			last.StatusCode, last.Status, last.Err = code, status, nil
		case status != v1alpha1.TriggeredStatus:
			log.Info("operation not triggered, retrying", "attempt", attempt, "status", status)
			last.StatusCode, last.Status, last.Err = code, status, nil
		default:
			log.Info("operation triggered", "attempt", attempt)
			return status, nil
		}
	}

	return "", last
}

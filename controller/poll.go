/*
Copyright 2022 Tinkerbell.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// StatusFunc returns the current value of an appliance status.
type StatusFunc func(ctx context.Context) (string, error)

// Renewer replaces the credential of a session.
type Renewer interface {
	Renew(ctx context.Context) error
}

// PollBudget bounds a wait for an appliance state.
type PollBudget struct {
	// MaxAttempts is the number of sleep and query cycles after the initial query.
	MaxAttempts int
	// Interval is slept before every query but the first.
	Interval time.Duration
	// RefreshCadence renews the session whenever the remaining attempts are a multiple of it.
	RefreshCadence int
}

// Validate checks the budget invariants.
func (b PollBudget) Validate() error {
	if b.MaxAttempts < 0 {
		return fmt.Errorf("poll budget attempts must not be negative, got %d", b.MaxAttempts)
	}
	if b.RefreshCadence <= 0 {
		return fmt.Errorf("poll budget refresh cadence must be positive, got %d", b.RefreshCadence)
	}

	return nil
}

// WithExtraMinutes extends the budget by enough attempts to cover minutes of additional waiting.
func (b PollBudget) WithExtraMinutes(minutes int) PollBudget {
	if minutes <= 0 || b.Interval <= 0 {
		return b
	}
	b.MaxAttempts += int(time.Duration(minutes) * time.Minute / b.Interval)

	return b
}

// Poller waits for a status accessor to report a target value.
type Poller struct {
	renewer Renewer
	clock   clock.Clock
	log     logr.Logger
}

// NewPoller returns a Poller renewing sessions through renewer.
func NewPoller(renewer Renewer, log logr.Logger, opts Options) *Poller {
	opts = opts.withDefaults()

	return &Poller{
		renewer: renewer,
		clock:   opts.Clock,
		log:     log.WithName("poller"),
	}
}

// WaitFor queries status until it returns target or budget is exhausted.
// The session is renewed before the first query, since a preceding long operation may have
// outlived the token, and then on the budget's refresh cadence. Errors of status are returned
// unchanged; a status accessor that may fail transiently has to absorb that itself.
func (p *Poller) WaitFor(ctx context.Context, status StatusFunc, target string, budget PollBudget) error {
	if err := budget.Validate(); err != nil {
		return err
	}
	log := p.log.WithValues("awaited", target, "attempts", budget.MaxAttempts)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("waiting for %s: %w", target, err)
	}
	if budget.MaxAttempts == 0 {
		pollTimeouts.WithLabelValues(target).Inc()
		return &TimeoutError{Awaited: target}
	}

	if err := p.renewer.Renew(ctx); err != nil {
		return fmt.Errorf("renew session before waiting for %s: %w", target, err)
	}
	current, err := p.query(ctx, status, target)
	if err != nil {
		return err
	}
	log.Info("waiting for state", "status", current)

	for remaining := budget.MaxAttempts; current != target; remaining-- {
		if remaining == 0 {
			pollTimeouts.WithLabelValues(target).Inc()
			return &TimeoutError{Awaited: target, Attempts: budget.MaxAttempts, Last: current}
		}
		if err := sleep(ctx, p.clock, budget.Interval); err != nil {
			return fmt.Errorf("waiting for %s: %w", target, err)
		}
		if remaining%budget.RefreshCadence == 0 {
			if err := p.renewer.Renew(ctx); err != nil {
				return fmt.Errorf("renew session while waiting for %s: %w", target, err)
			}
		}
		if current, err = p.query(ctx, status, target); err != nil {
			return err
		}
		log.Info("still waiting", "status", current, "remaining", remaining-1)
	}
	log.Info("state reached")

	return nil
}

func (p *Poller) query(ctx context.Context, status StatusFunc, target string) (string, error) {
	pollAttempts.WithLabelValues(target).Inc()
	current, err := status(ctx)
	if err != nil {
		return "", fmt.Errorf("query status while waiting for %s: %w", target, err)
	}

	return current, nil
}

// sleep waits d on clk, or returns the context error once ctx is done. An interrupted
// clock sleep is left to finish in the background.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		clk.Sleep(d)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

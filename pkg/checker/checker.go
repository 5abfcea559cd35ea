// Package checker builds and runs the configured connectivity checks.
package checker

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/rs/zerolog/log"

	"github.com/jcodybaker/conncheck/pkg/types/check"
)

const (
	defaultTimeout = 6 * time.Second
)

// NewChecker creates a checker.
func NewChecker(opts ...CheckerOption) *checker {
	c := &checker{
		now:     time.Now,
		timeout: defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CheckerOption describe optional arguments for the checker.
type CheckerOption func(*checker)

// NewCheck builds the Check for def according to its kind.
func NewCheck(def check.Definition) (check.Check, error) {
	switch def.Kind {
	case check.KindAPI:
		return NewAPICheck(def)
	case check.KindDB:
		return NewDBCheck(def)
	case check.KindDNS:
		return NewDNSCheck(def)
	default:
		return nil, fmt.Errorf("unrecognized check kind %q", def.Kind)
	}
}

// WithCheck adds a Check function for def. If def carries no name, we will
// attempt to determine one from the func.
func WithCheck(def check.Definition, f check.Check) CheckerOption {
	name := def.Name
	if name == "" {
		name = strings.TrimPrefix(runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name(), "github.com/jcodybaker/conncheck")
	}
	return func(c *checker) {
		c.checks = append(c.checks, checkFunc{
			f:       f,
			name:    strcase.ToSnake(name),
			kind:    def.Kind,
			timeout: def.Timeout.Std(),
		})
	}
}

// WithTimeout sets a fallback timeout for checks which don't carry their own.
func WithTimeout(timeout time.Duration) CheckerOption {
	return func(c *checker) {
		c.timeout = timeout
	}
}

// WithNow overrides the clock used for latency measurements.
func WithNow(now func() time.Time) CheckerOption {
	return func(c *checker) {
		c.now = now
	}
}

type checkFunc struct {
	f       check.Check
	name    string
	kind    string
	timeout time.Duration
}

type checker struct {
	now     func() time.Time
	checks  []checkFunc
	timeout time.Duration
}

// Run executes the registered checks one at a time in registration order and
// returns one result per completed check. Every check runs under its own
// timeout so a stalled target can't starve the ones behind it. If ctx is
// canceled mid-run, Run returns the results gathered so far with ctx's error.
func (c *checker) Run(ctx context.Context) ([]check.Result, error) {
	results := make([]check.Result, 0, len(c.checks))
	for _, ch := range c.checks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		log.Ctx(ctx).Info().
			Str("check", ch.name).
			Str("kind", ch.kind).
			Msg("check started")
		timeout := ch.timeout
		if timeout <= 0 {
			timeout = c.timeout
		}
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		start := c.now()
		r := ch.f(checkCtx)
		finish := c.now()
		cancel()
		if r.Name == "" {
			r.Name = ch.name
		}
		if r.Component == "" {
			r.Component = ch.kind
		}
		if r.LatencyMS == 0 {
			r.LatencyMS = finish.Sub(start).Milliseconds()
		}
		log.Ctx(ctx).Debug().
			Str("check", ch.name).
			Str("status", string(r.Status)).
			Dur("duration", finish.Sub(start)).
			Msg("check finished")
		if ctx.Err() != nil && r.Status == check.StatusError { // If the parent ctx is canceled this check isn't to blame.
			return results, ctx.Err()
		}
		results = append(results, r)
		if err := ctx.Err(); err != nil {
			return results, err
		}
	}
	return results, nil
}

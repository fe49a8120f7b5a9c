// Package community checks and records membership of the Discord
// community with a bounded number of spaced retries.
package community

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/tovplay/gateway"
	"github.com/kasuganosora/tovplay/metrics"
	"go.uber.org/zap"
)

// Backend is the community part of the API.
type Backend interface {
	CommunityStatus(ctx context.Context) (*gateway.CommunityStatus, error)
	SetInCommunity(ctx context.Context) error
}

// Outcome is the final verdict of a check.
type Outcome int

const (
	// Joined means the server reports membership.
	Joined Outcome = iota
	// NotJoined means every attempt answered "not a member".
	NotJoined
	// NotLinked means the account has no Discord connection; retrying
	// cannot help.
	NotLinked
	// Failed means the last attempt errored.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Joined:
		return "joined"
	case NotJoined:
		return "not_joined"
	case NotLinked:
		return "not_linked"
	default:
		return "failed"
	}
}

// Result reports how a check ended.
type Result struct {
	Outcome  Outcome
	Attempts int
	// Message is the user-facing text for Outcome.
	Message string
	// Err is the last error for Failed.
	Err error
}

// Progress is called before each retry with the attempt that just failed.
type Progress func(attempt, max int, reason string)

// Checker polls the membership endpoint.
type Checker struct {
	backend     Backend
	maxAttempts int
	interval    time.Duration
	logger      *zap.Logger
	progress    Progress
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option customizes a Checker.
type Option func(*Checker)

// WithProgress reports retries to fn.
func WithProgress(fn Progress) Option {
	return func(c *Checker) { c.progress = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) { c.logger = l }
}

// New creates a Checker making at most maxAttempts attempts spaced by
// interval.
func New(backend Backend, maxAttempts int, interval time.Duration, opts ...Option) *Checker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	c := &Checker{
		backend:     backend,
		maxAttempts: maxAttempts,
		interval:    interval,
		logger:      zap.NewNop(),
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const notLinkedMarker = "not connected with Discord"

// Check asks for membership until it is confirmed, the account turns out
// not to be linked, attempts run out or ctx ends. The returned error is
// non-nil only when ctx ended.
func (c *Checker) Check(ctx context.Context) (Result, error) {
	var res Result
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		res = c.attempt(ctx, attempt)
		metrics.CommunityAttempts.WithLabelValues(res.Outcome.String()).Inc()
		if res.Outcome == Joined || res.Outcome == NotLinked {
			return res, nil
		}
		if attempt == c.maxAttempts {
			break
		}
		reason := "not in community yet"
		if res.Err != nil {
			reason = gateway.Message(res.Err)
		}
		c.logger.Debug("community check retry",
			zap.Int("attempt", attempt), zap.Int("max", c.maxAttempts), zap.String("reason", reason))
		if c.progress != nil {
			c.progress(attempt, c.maxAttempts, reason)
		}
		if err := c.sleep(ctx, c.interval); err != nil {
			return res, err
		}
	}
	switch res.Outcome {
	case NotJoined:
		res.Message = "Please complete the join process in Discord, then check again."
	default:
		res.Message = "Error checking community status. Please try again later."
	}
	c.logger.Info("community check gave up",
		zap.Int("attempts", res.Attempts), zap.Stringer("outcome", res.Outcome), zap.Error(res.Err))
	return res, nil
}

func (c *Checker) attempt(ctx context.Context, n int) Result {
	res := Result{Attempts: n}
	st, err := c.backend.CommunityStatus(ctx)
	switch {
	case err != nil:
		res.Err = err
		if strings.Contains(gateway.Message(err), notLinkedMarker) {
			res.Outcome = NotLinked
			res.Message = "Please connect your Discord account first."
			return res
		}
		res.Outcome = Failed
	case st.Error != "":
		res.Err = fmt.Errorf("community: %s", st.Error)
		if strings.Contains(st.Error, notLinkedMarker) {
			res.Outcome = NotLinked
			res.Message = "Please connect your Discord account first."
			return res
		}
		res.Outcome = Failed
	case st.Joined():
		res.Outcome = Joined
		res.Message = "Welcome to the community!"
	default:
		res.Outcome = NotJoined
	}
	return res
}

// Join records membership and then verifies it with Check. When recording
// fails the check is skipped and the user is asked to join and verify.
func (c *Checker) Join(ctx context.Context) (Result, error) {
	if err := c.backend.SetInCommunity(ctx); err != nil {
		c.logger.Warn("set in community failed", zap.Error(err))
		return Result{
			Outcome: Failed,
			Message: "Join the Discord server, then verify your membership.",
			Err:     err,
		}, nil
	}
	return c.Check(ctx)
}

package rla

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxInFlight  = 2
)

// Fetcher retrieves the raw dashboard payload for a session's actor.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// PollResult is the outcome of one fetch once it has been applied.
type PollResult struct {
	State AppState
	Err   error
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the time between fetches.
func WithInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithMaxInFlight bounds the number of concurrent fetches. Ticks that find
// the bound reached are skipped.
func WithMaxInFlight(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxInFlight = n
		}
	}
}

// WithOnResult observes every applied (or rejected) fetch, in the order the
// session saw them.
func WithOnResult(fn func(PollResult)) PollerOption {
	return func(p *Poller) {
		p.onResult = fn
	}
}

// Poller periodically fetches snapshots and feeds them to a Session. Fetches
// may overlap and complete in any order; results are applied one at a time
// from the Run goroutine and the version gate discards the superseded ones.
type Poller struct {
	session     *Session
	fetcher     Fetcher
	interval    time.Duration
	maxInFlight int
	onResult    func(PollResult)
}

func NewPoller(session *Session, fetcher Fetcher, opts ...PollerOption) *Poller {
	p := &Poller{
		session:     session,
		fetcher:     fetcher,
		interval:    DefaultPollInterval,
		maxInFlight: DefaultMaxInFlight,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

type fetchResult struct {
	raw []byte
	err error
}

// Run polls until ctx is done or the session is closed. It fetches once
// immediately and then on every tick.
func (p *Poller) Run(ctx context.Context) error {
	if p.session == nil || p.fetcher == nil {
		return errors.New("rla: poller needs a session and a fetcher")
	}
	ctx, cancel := context.WithCancel(ctx)
	results := make(chan fetchResult, p.maxInFlight)
	var group errgroup.Group
	group.SetLimit(p.maxInFlight)
	defer func() {
		cancel()
		_ = group.Wait()
	}()

	start := func() {
		started := group.TryGo(func() error {
			raw, err := p.fetcher.Fetch(ctx)
			select {
			case results <- fetchResult{raw: raw, err: err}:
			case <-ctx.Done():
			}
			return nil
		})
		if !started {
			p.session.logSync(SyncLogEvent{Op: "poll", Fields: map[string]any{"skipped": true, "max_in_flight": p.maxInFlight}})
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	start()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start()
		case result := <-results:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := p.handle(ctx, result); errors.Is(err, ErrSessionClosed) {
				return err
			}
		}
	}
}

// PollOnce fetches and applies a single snapshot synchronously.
func (p *Poller) PollOnce(ctx context.Context) (AppState, error) {
	if p.session == nil || p.fetcher == nil {
		return AppState{}, errors.New("rla: poller needs a session and a fetcher")
	}
	raw, err := p.fetcher.Fetch(ctx)
	result := fetchResult{raw: raw, err: err}
	return p.apply(ctx, result)
}

func (p *Poller) handle(ctx context.Context, result fetchResult) error {
	_, err := p.apply(ctx, result)
	return err
}

func (p *Poller) apply(ctx context.Context, result fetchResult) (AppState, error) {
	var (
		next AppState
		err  error
	)
	if result.err != nil {
		err = p.session.ReportNetworkFailure(ctx, result.err)
		next = p.session.State()
	} else {
		next, err = p.session.Apply(ctx, result.raw)
	}
	if p.onResult != nil {
		p.onResult(PollResult{State: next, Err: err})
	}
	return next, err
}

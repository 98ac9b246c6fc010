// Command rla-replay feeds recorded dashboard payloads through an audit
// session, in order, and prints the resulting mirror and derived state.
//
//	rla-replay --actor County --query 'derived.canAudit' snap-1.json snap-2.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	rla "github.com/goliatone/go-rla"
	"github.com/goliatone/go-rla/internal/config"
	"github.com/goliatone/go-rla/pkg/activity"
	"github.com/goliatone/go-rla/pkg/state"
	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "rla-replay:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	actor      string
	sessionID  string
	engine     string
	redisURL   string
	queries    []string
	keep       bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	flags := pflag.NewFlagSet("rla-replay", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("RLA_CONFIG"), "YAML configuration file")
	flags.StringVar(&opts.actor, "actor", "", "dashboard kind: County or DOS")
	flags.StringVar(&opts.sessionID, "session-id", "", "checkpoint key; resumes a stored session")
	flags.StringVar(&opts.engine, "engine", "", "rule engine: expr, cel or js")
	flags.StringVar(&opts.redisURL, "redis-url", "", "checkpoint sessions in redis")
	flags.StringArrayVarP(&opts.queries, "query", "q", nil, "expression evaluated after the replay (repeatable)")
	flags.BoolVar(&opts.keep, "keep", false, "keep the checkpoint instead of closing the session")
	if err := flags.Parse(args); err != nil {
		return err
	}
	files := flags.Args()
	if len(files) == 0 {
		return errors.New("at least one snapshot file is required")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	overrideString(&cfg.Actor, opts.actor)
	overrideString(&cfg.SessionID, opts.sessionID)
	overrideString(&cfg.Evaluator.Engine, opts.engine)
	overrideString(&cfg.Redis.URL, opts.redisURL)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, stderr)
	sessionOpts := []rla.Option{
		rla.WithLogger(rla.NewSlogLogger(logger)),
		rla.WithEvaluatorLogger(rla.NewSlogLogger(logger)),
		rla.WithSessionID(cfg.SessionID),
		rla.WithActivityChannel(cfg.Activity.Channel),
		rla.WithActivityHooks(activity.Hooks{activity.WarningsOnly(logHook(logger))}),
	}
	if cfg.Evaluator.Engine != "expr" {
		evaluator, err := rla.NewEvaluator(cfg.Evaluator.Engine, rla.NewMemoryProgramCache(), rla.DefaultFunctionRegistry())
		if err != nil {
			return err
		}
		sessionOpts = append(sessionOpts, rla.WithEvaluator(evaluator))
	}
	if cfg.Redis.URL != "" {
		store, err := state.NewRedisStore[rla.AppState](ctx, cfg.Redis.URL,
			state.WithKeyPrefix(cfg.Redis.Prefix), state.WithTTL(cfg.Redis.TTL))
		if err != nil {
			return err
		}
		defer store.Close()
		sessionOpts = append(sessionOpts, rla.WithStore(store))
	}

	session, err := rla.Open(ctx, rla.Actor(cfg.Actor), sessionOpts...)
	if err != nil {
		return err
	}
	if !opts.keep {
		defer func() {
			if err := session.Close(context.Background()); err != nil {
				logger.Warn("close session failed", "event", "rla_close", "module", "rla-replay", "error", err.Error())
			}
		}()
	}

	next := 0
	fetcher := rla.FetcherFunc(func(context.Context) ([]byte, error) {
		path := files[next]
		next++
		return os.ReadFile(path)
	})
	poller := rla.NewPoller(session, fetcher,
		rla.WithInterval(cfg.Poll.Interval), rla.WithMaxInFlight(cfg.Poll.MaxInFlight))

	for _, path := range files {
		current, err := poller.PollOnce(ctx)
		switch {
		case errors.Is(err, rla.ErrStaleSnapshot):
			fmt.Fprintf(stdout, "%s: stale, ignored\n", path)
			continue
		case err != nil:
			fmt.Fprintf(stdout, "%s: rejected: %v\n", path, err)
			continue
		}
		fmt.Fprintf(stdout, "%s: applied version %d\n", path, current.Version)
		for _, drift := range current.Drift {
			fmt.Fprintf(stdout, "  drift %s county=%d %s -> %s\n", drift.Actor, drift.CountyID, drift.From, drift.To)
		}
		for _, anomaly := range current.Anomalies {
			fmt.Fprintf(stdout, "  anomaly %s county=%d %s\n", anomaly.Kind, anomaly.CountyID, anomaly.Detail)
		}
	}

	snapshot, err := rla.RuleSnapshot(session.State())
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot["derived"]); err != nil {
		return err
	}
	for _, query := range opts.queries {
		value, err := session.Evaluate(query)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s = %v\n", query, value)
	}
	return nil
}

func overrideString(dst *string, value string) {
	if strings.TrimSpace(value) != "" {
		*dst = strings.TrimSpace(value)
	}
}

// logHook writes activity events as structured warnings.
func logHook(logger *slog.Logger) activity.ActivityHook {
	return activity.HookFunc(func(ctx context.Context, event activity.Event) error {
		attrs := []any{"event", event.Verb, "module", "rla-replay", "object", event.ObjectID}
		for key, value := range event.Metadata {
			attrs = append(attrs, key, value)
		}
		logger.WarnContext(ctx, "audit warning", attrs...)
		return nil
	})
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

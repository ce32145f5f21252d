// Command caldora-sync keeps a local SQLite calendar in sync with a CalDAV
// account, either once or on a schedule.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cyp0633/caldora-sync/config"
	"github.com/cyp0633/caldora-sync/davclient"
	"github.com/cyp0633/caldora-sync/relay"
	"github.com/cyp0633/caldora-sync/scheduler"
	"github.com/cyp0633/caldora-sync/storage"
	"github.com/cyp0633/caldora-sync/storage/sqlite"
	"github.com/cyp0633/caldora-sync/syncengine"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configPath    string
	once          bool
	listCalendars bool
	agendaDays    int
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "caldora.yaml", "path to the YAML config file")
	flag.BoolVar(&opts.once, "once", false, "run a single sync pass and print the result")
	flag.BoolVar(&opts.listCalendars, "list-calendars", false, "list remote calendars and exit")
	flag.IntVar(&opts.agendaDays, "agenda", 0, "print the stored events of the next N days and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, "caldora-sync:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", opts.configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}

	opt := syncengine.DefaultOptions()
	opt.Window = cfg.Window()
	engine, err := syncengine.New(syncengine.Config{
		Transport: transport,
		Events:    store,
		Tokens:    store,
		Calendars: store,
		Credential: storage.Credential{
			ServerURL: cfg.CalDAV.ServerURL,
			Username:  cfg.CalDAV.Username,
		},
		Logger:  logger,
		Options: opt,
	})
	if err != nil {
		return err
	}

	calendars := func(ctx context.Context) ([]string, error) {
		if len(cfg.CalDAV.Calendars) > 0 {
			return cfg.CalDAV.Calendars, nil
		}
		if _, err := engine.RefreshCalendars(ctx); err != nil {
			logger.Warn("failed to refresh calendar list, using stored list", "error", err)
		}
		return engine.VisibleCalendars(ctx)
	}

	switch {
	case opts.listCalendars:
		return listCalendars(ctx, engine)
	case opts.agendaDays > 0:
		return printAgenda(ctx, engine, calendars, opts.agendaDays)
	case opts.once:
		urls, err := calendars(ctx)
		if err != nil {
			return err
		}
		res, err := engine.Sync(ctx, urls)
		if err != nil {
			return err
		}
		recordSync(opts.configPath, logger)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if failed := res.Failed(); len(failed) > 0 {
			return fmt.Errorf("%d calendar(s) failed to sync", len(failed))
		}
		return nil
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	sched := scheduler.New(engine, scheduler.Config{
		Interval:  cfg.SyncInterval(),
		Calendars: calendars,
		Location:  loc,
		Logger:    logger,
		OnResult: func(res *syncengine.Result, err error) {
			if err != nil || res.Busy {
				return
			}
			recordSync(opts.configPath, logger)
			if res.StateChanged() {
				logger.Info("events were removed remotely", "deleted", res.Deleted())
			}
		},
	})

	if last := cfg.CalDAV.LastSyncAt; !last.IsZero() {
		logger.Info("starting scheduler", "last_sync_at", last.In(loc))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return nil
	})
	return g.Wait()
}

func recordSync(configPath string, logger *slog.Logger) {
	if err := config.RecordSync(configPath, time.Now()); err != nil {
		logger.Warn("failed to record sync time", "error", err)
	}
}

func newTransport(cfg *config.Config, logger *slog.Logger) (syncengine.Transport, error) {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	if cfg.Relay.Endpoint != "" {
		return relay.NewClient(relay.ClientConfig{
			Endpoint:   cfg.Relay.Endpoint,
			ServerURL:  cfg.CalDAV.ServerURL,
			Username:   cfg.CalDAV.Username,
			Password:   cfg.CalDAV.Password,
			Tokens:     relay.StaticToken(cfg.Relay.Token),
			HTTPClient: httpClient,
			Logger:     logger,
		})
	}
	return davclient.NewClient(davclient.Config{
		ServerURL:  cfg.CalDAV.ServerURL,
		Username:   cfg.CalDAV.Username,
		Password:   cfg.CalDAV.Password,
		HTTPClient: httpClient,
		Logger:     logger,
	})
}

func listCalendars(ctx context.Context, engine *syncengine.Engine) error {
	cals, err := engine.RefreshCalendars(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOLOR\tVISIBLE\tURL")
	for _, c := range cals {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", c.DisplayName, c.Color, c.IsVisible, c.URL)
	}
	return w.Flush()
}

func printAgenda(ctx context.Context, engine *syncengine.Engine, calendars func(context.Context) ([]string, error), days int) error {
	urls, err := calendars(ctx)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return errors.New("no calendars configured or stored")
	}

	now := time.Now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, days).Add(-time.Second)
	occ, err := engine.Agenda(ctx, urls, from, to)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, o := range occ {
		clock := "all day"
		if start, ok := o.Event.StartTime.Get(); ok {
			clock = start
			if end, ok := o.Event.EndTime.Get(); ok {
				clock += "-" + end
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Date, clock, o.Event.Title)
	}
	return w.Flush()
}

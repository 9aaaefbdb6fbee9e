package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"actualcal/internal/amount"
	"actualcal/internal/config"
	"actualcal/internal/feed"
	appLog "actualcal/internal/log"
	"actualcal/internal/source"
	"actualcal/internal/web"
)

const version = "0.1.0"

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "config, c",
		Value:  "/etc/actualcal/config.yaml",
		Usage:  "path to config file",
		EnvVar: "ACTUALCAL_CONFIG",
	},
	cli.StringFlag{
		Name:  "log-level",
		Usage: "override log level (debug, info, warn, error)",
	},
}

func main() {
	app := cli.App{
		Name:     "actualcal",
		HelpName: "actualcal",
		Usage:    "Publish Actual budget schedules as an iCalendar feed.",
		Version:  version,
		Flags:    globalFlags,
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "serve the feed over HTTP and keep it refreshed",
				Action: serve,
				Flags: []cli.Flag{
					cli.StringFlag{
						Name:  "listen",
						Usage: "HTTP listen address (overrides config if set)",
					},
					cli.BoolFlag{
						Name:  "no-watch",
						Usage: "do not rebuild when the source file changes",
					},
				},
			},
			{
				Name:   "export",
				Usage:  "build the feed once and write it out",
				Action: export,
				Flags: []cli.Flag{
					cli.StringFlag{
						Name:  "out, o",
						Value: "-",
						Usage: "output file, - for stdout",
					},
				},
			},
			{
				Name:   "check",
				Usage:  "expand all schedules and report per-schedule results",
				Action: check,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		appLog.Error("actualcal failed", err)
		os.Exit(1)
	}
}

// setup loads config, configures logging and builds the feed builder.
func setup(ctx *cli.Context) (*config.Config, *feed.Builder, error) {
	configPath := ctx.GlobalString("config")

	conf, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	levelName := conf.Log.Level
	if v := ctx.GlobalString("log-level"); v != "" {
		levelName = v
	}
	level, ok := appLog.ParseLevel(levelName)
	if !ok {
		appLog.Warn("unknown log level; using info", "level", levelName)
	}
	appLog.SetJSON(conf.Log.JSON)
	appLog.SetLevel(level)

	loc := conf.Location()
	src, err := source.New(conf.Source, loc, afero.NewOsFs())
	if err != nil {
		return nil, nil, err
	}

	appLog.Info("effective config",
		"config_path", configPath,
		"timezone", loc.String(),
		"forecast_months", conf.ForecastMonths,
		"refresh", conf.RefreshCron,
		"source", src.Name(),
		"sync_id", conf.Source.SyncID,
		"max_occurrences", conf.MaxOccurrences,
	)

	b := &feed.Builder{
		Source:         src,
		Location:       loc,
		ForecastMonths: conf.ForecastMonths,
		Formatter: amount.Formatter{
			Symbol:   conf.Amount.Symbol,
			Format:   conf.Amount.Format,
			Decimals: conf.Amount.Decimals,
		},
		MaxOccurrences: conf.MaxOccurrences,
		CalendarName:   conf.CalendarName,
	}
	return conf, b, nil
}

// signalContext is canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serve(ctx *cli.Context) error {
	conf, builder, err := setup(ctx)
	if err != nil {
		return err
	}
	if listen := ctx.String("listen"); listen != "" {
		conf.Listen = listen
	}

	runCtx, cancel := signalContext()
	defer cancel()

	refresher := feed.NewRefresher(builder)

	// The first build may fail (source not synced yet); the server still
	// starts and the next scheduled refresh retries.
	if _, err := refresher.Refresh(runCtx); err != nil {
		appLog.Error("initial feed build failed", err)
	}

	if err := refresher.Start(conf.RefreshCron, builder.Location); err != nil {
		return fmt.Errorf("schedule refresh %q: %w", conf.RefreshCron, err)
	}
	defer refresher.Stop()

	var wg sync.WaitGroup
	if local, ok := builder.Source.(source.Local); ok && !ctx.Bool("no-watch") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := refresher.Watch(runCtx, local.Path()); err != nil {
				appLog.Error("source watch stopped", err, "path", local.Path())
			}
		}()
	}

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		appLog.Error("sd_notify failed", err)
	} else if sent {
		appLog.Debug("sd_notify ready sent")
	}

	srv := web.NewServer(conf, refresher)
	err = srv.ListenAndServe(runCtx)

	cancel()
	wg.Wait()
	appLog.Info("actualcal exiting")
	return err
}

func export(ctx *cli.Context) error {
	_, builder, err := setup(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := signalContext()
	defer cancel()

	snap, err := builder.Build(runCtx)
	if err != nil {
		return err
	}

	out := ctx.String("out")
	if out == "" || out == "-" {
		_, err = os.Stdout.Write(snap.ICS)
		return err
	}

	fs := afero.NewOsFs()
	if err := afero.WriteFile(fs, out, snap.ICS, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	appLog.Info("feed exported", "path", out, "events", len(snap.Events), "failures", len(snap.Failures))
	return nil
}

func check(ctx *cli.Context) error {
	_, builder, err := setup(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := signalContext()
	defer cancel()

	snap, err := builder.Build(runCtx)
	if err != nil {
		return err
	}

	if err := writeReport(os.Stdout, snap); err != nil {
		return err
	}
	if len(snap.Failures) > 0 {
		return cli.NewExitError(fmt.Sprintf("%d schedule(s) failed to expand", len(snap.Failures)), 2)
	}
	return nil
}

// writeReport prints one line per schedule with its event count or failure.
func writeReport(w io.Writer, snap *feed.Snapshot) error {
	if snap == nil {
		return errors.New("no snapshot")
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULE\tSTATUS\tEVENTS\tDETAIL")
	for _, o := range snap.Outcomes {
		switch {
		case !o.OK():
			fmt.Fprintf(tw, "%s\tfailed\t0\t%s\n", o.ScheduleID, o.Reason)
		case o.Truncated:
			fmt.Fprintf(tw, "%s\ttruncated\t%d\tmax occurrences reached\n", o.ScheduleID, o.Events)
		default:
			fmt.Fprintf(tw, "%s\tok\t%d\t\n", o.ScheduleID, o.Events)
		}
	}
	fmt.Fprintf(tw, "\t\t\t%d schedules, %d events, horizon %s\n",
		snap.Schedules, len(snap.Events), snap.Horizon.Format("2006-01-02"))
	return tw.Flush()
}

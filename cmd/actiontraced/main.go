// Command actiontraced wires the ActionTrace pipeline end to end against
// a synthetic capture source and prints a live colorized tail plus a
// periodic table snapshot of the AI-filtered query. It plays the same
// demonstration role the teacher's cmd/main.go plays for the log
// pipeline: load config, build the app, run until signaled, shut down
// cleanly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"actiontrace/internal/app"
	"actiontrace/internal/capture/demo"
	"actiontrace/internal/query"
	"actiontrace/pkg/types"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		settingsPath  = flag.String("settings", "", "path to a Settings YAML file (optional)")
		snapshotPath  = flag.String("snapshot", "actiontrace.snapshot.json", "path to the persisted event snapshot")
		coldStorePath = flag.String("coldstore", "", "optional path to a BadgerDB cold archive for dehydrated payloads")
		metricsAddr   = flag.String("metrics-addr", ":9090", "address for the Prometheus /metrics endpoint")
		preset        = flag.String("preset", "AIFocused", "settings preset to apply at startup")
		tickInterval  = flag.Duration("tick", 150*time.Millisecond, "synthetic capture source emission interval")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	application, err := app.New(app.Config{
		SettingsPath:  *settingsPath,
		SnapshotPath:  *snapshotPath,
		ColdStorePath: *coldStorePath,
		MetricsAddr:   *metricsAddr,
		WatchSettings: *settingsPath != "",
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "actiontraced: failed to build app: %v\n", err)
		os.Exit(1)
	}

	if err := application.Settings().ApplyPreset(*preset); err != nil {
		logger.WithError(err).Warn("requested preset not found, keeping defaults")
	}

	source := demo.NewTickerSource(*tickInterval, application.Filter(), application.Sampling(), application.Store(), logger)
	application.Registry().Register(source)

	application.Store().Subscribe(func(event types.Event) {
		fmt.Println(colorizeEvent(event))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application.Start(ctx)
	fmt.Println(color.GreenString("actiontraced started — preset=%s metrics=%s", *preset, *metricsAddr))

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println(color.YellowString("shutting down"))
			application.Stop()
			return
		case <-ticker.C:
			printSnapshot(application)
		}
	}
}

func colorizeEvent(event types.Event) string {
	switch {
	case strings.Contains(strings.ToLower(event.Type), "fail"):
		return color.RedString("[%d] %s %s", event.Sequence, event.Type, event.TargetID)
	case strings.Contains(event.Type, "Build") || strings.Contains(event.Type, "Scene"):
		return color.CyanString("[%d] %s %s", event.Sequence, event.Type, event.TargetID)
	default:
		return color.WhiteString("[%d] %s %s", event.Sequence, event.Type, event.TargetID)
	}
}

// printSnapshot renders the current AI-filtered query window as a table,
// the same role janus-datalog's TableFormatter plays for query results.
func printSnapshot(a *app.App) {
	items := a.Query(query.Options{
		Limit:              20,
		Sort:               types.SortAIFiltered,
		UseSettingsDefault: true,
		DefaultThreshold:   a.Settings().Get().Filtering.MinImportanceForRecording,
	})
	if len(items) == 0 {
		return
	}

	table := tablewriter.NewTable(os.Stdout)
	table.Header([]string{"Seq", "Category", "Importance", "Summary"})
	for _, item := range items {
		table.Append([]string{
			fmt.Sprintf("%d", item.Sequence),
			string(item.Category),
			fmt.Sprintf("%.2f", item.Importance),
			item.DisplaySummary,
		})
	}
	table.Render()
}

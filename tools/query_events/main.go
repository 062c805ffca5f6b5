// Command query_events prints the analytics events recorded for one page
// view, either as JSON or as a per-slot timeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/config"
	"github.com/patrickwarner/openadview/internal/observability"
)

var (
	pageViewID = flag.String("id", "", "page view ID")
	dsn        = flag.String("dsn", "", "ClickHouse DSN (defaults to CLICKHOUSE_DSN)")
	eventType  = flag.String("type", "", "only events of this type, e.g. ad_impression")
	timeline   = flag.Bool("timeline", false, "print a readable timeline instead of JSON")
)

func main() {
	flag.Parse()

	logger, err := observability.InitLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *pageViewID == "" {
		fmt.Fprintln(os.Stderr, "-id required")
		os.Exit(1)
	}
	if *dsn == "" {
		*dsn = config.Load().ClickHouseDSN
	}

	ch, err := analytics.InitClickHouse(*dsn, 2)
	if err != nil {
		logger.Fatal("connect clickhouse", zap.Error(err))
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	events, err := ch.GetEventsByPageView(ctx, *pageViewID)
	if err != nil {
		logger.Fatal("query events", zap.String("page_view_id", *pageViewID), zap.Error(err))
	}
	events = filterType(events, *eventType)

	if *timeline {
		printTimeline(os.Stdout, events)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(events); err != nil {
		logger.Fatal("encode events", zap.Error(err))
	}
}

func filterType(events []analytics.EventRecord, typ string) []analytics.EventRecord {
	if typ == "" {
		return events
	}
	out := events[:0]
	for _, e := range events {
		if e.EventType == typ {
			out = append(out, e)
		}
	}
	return out
}

// printTimeline writes one line per event with the offset from the first.
func printTimeline(w io.Writer, events []analytics.EventRecord) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no events")
		return
	}
	start := events[0].Timestamp
	for _, e := range events {
		slot := e.SlotID
		if slot == "" {
			slot = "-"
		}
		fmt.Fprintf(w, "+%8.3fs  %-18s %-24s ratio=%.2f visible=%dms\n",
			e.Timestamp.Sub(start).Seconds(), e.EventType, slot, e.Ratio, e.VisibleMs)
	}
}

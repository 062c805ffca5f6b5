// Slot Report Tool prints a performance report for ad slots from the
// ClickHouse event store.
//
// Usage:
//
//	go run ./tools/slot_report -days=7
//	go run ./tools/slot_report -slot-id=demo-sidebar -days=30
//
// The report includes overall totals, a per-slot table, a daily breakdown
// and a few automated insights on CTR, dwell and load failures.
//
// Configuration:
//
//	-slot-id: Optional. Restrict the slot table to one slot
//	-days: Optional. Number of days to include in the report (default: 7)
//	-clickhouse-dsn: Optional. ClickHouse connection string (default: clickhouse://localhost:9000/default)
//
// Environment Variables:
//
//	CLICKHOUSE_DSN: ClickHouse connection string (overridden by -clickhouse-dsn flag)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/patrickwarner/openadview/internal/analytics"
	"github.com/patrickwarner/openadview/internal/reporting"
)

func main() {
	var (
		slotID = flag.String("slot-id", "", "Only report this slot")
		days   = flag.Int("days", 7, "Number of days to include in report")
		dsn    = flag.String("clickhouse-dsn", getEnv("CLICKHOUSE_DSN", "clickhouse://localhost:9000/default"), "ClickHouse DSN")
	)
	flag.Parse()

	if *days < 1 {
		fmt.Fprintf(os.Stderr, "Error: days must be >= 1\n")
		flag.Usage()
		os.Exit(1)
	}

	ch, err := analytics.InitClickHouse(*dsn, 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to ClickHouse: %v\n", err)
		os.Exit(1)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	src := &reporting.ClickHouseSource{DB: ch.DB}
	report, err := src.Report(ctx, time.Duration(*days)*24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	if *slotID != "" {
		filtered := report.Slots[:0]
		for _, s := range report.Slots {
			if s.SlotID == *slotID {
				filtered = append(filtered, s)
			}
		}
		report.Slots = filtered
	}

	printSlotReport(report, *days)
}

// printSlotReport writes the report as fixed-width tables to stdout.
func printSlotReport(report *reporting.PerformanceReport, days int) {
	fmt.Printf("═══════════════════════════════════════════════════════════════════════════════════\n")
	fmt.Printf("                              AD SLOT PERFORMANCE REPORT                           \n")
	fmt.Printf("═══════════════════════════════════════════════════════════════════════════════════\n")
	fmt.Printf("Report Period: %d days (window %s)\n", days, report.Window)
	fmt.Printf("Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05"))

	fmt.Printf("📊 OVERALL PERFORMANCE\n")
	fmt.Printf("───────────────────────────────────────────────────────────────────────────────────\n")
	total := report.Totals
	fmt.Printf("Viewable Impressions: %s\n", formatNumber(total.Impressions))
	fmt.Printf("Clicks:               %s\n", formatNumber(total.Clicks))
	fmt.Printf("Capped Instances:     %s\n", formatNumber(total.Capped))
	fmt.Printf("Load Failures:        %s\n", formatNumber(total.RequestFailures))
	fmt.Printf("Overall CTR:          %.2f%%\n", total.CTR)
	fmt.Printf("Average Dwell:        %.0f ms\n\n", total.AvgDwellMs)

	if len(report.Slots) > 0 {
		fmt.Printf("🧩 SLOT BREAKDOWN\n")
		fmt.Printf("───────────────────────────────────────────────────────────────────────────────────\n")
		fmt.Printf("Slot ID                  | Position            | Impressions | Clicks |   CTR   | Dwell ms\n")
		fmt.Printf("-------------------------|---------------------|-------------|--------|---------|---------\n")
		for _, s := range report.Slots {
			fmt.Printf("%-24s | %-19s | %11s | %6s | %6.2f%% | %8.0f\n",
				s.SlotID,
				s.Position,
				formatNumber(s.Impressions),
				formatNumber(s.Clicks),
				s.CTR,
				s.AvgDwellMs,
			)
		}
		fmt.Printf("\n")
	}

	if len(report.Daily) > 0 {
		fmt.Printf("📅 DAILY BREAKDOWN\n")
		fmt.Printf("───────────────────────────────────────────────────────────────────────────────────\n")
		fmt.Printf("Date        | Page Views | Impressions | Clicks |   CTR   \n")
		fmt.Printf("------------|------------|-------------|--------|---------\n")
		for _, d := range report.Daily {
			fmt.Printf("%-10s | %10s | %11s | %6s | %6.2f%%\n",
				d.Date.Format("2006-01-02"),
				formatNumber(d.PageViews),
				formatNumber(d.Impressions),
				formatNumber(d.Clicks),
				d.CTR,
			)
		}
		fmt.Printf("\n")
	}

	fmt.Printf("💡 INSIGHTS & RECOMMENDATIONS\n")
	fmt.Printf("───────────────────────────────────────────────────────────────────────────────────\n")

	if total.Impressions == 0 {
		fmt.Printf("⚠️  No viewable impressions recorded - check thresholds and dwell requirements\n")
	} else if total.CTR < 0.1 {
		fmt.Printf("⚠️  Low CTR (%.2f%%) - consider reviewing slot positions\n", total.CTR)
	} else {
		fmt.Printf("✅ CTR %.2f%% across viewable impressions\n", total.CTR)
	}

	if attempts := total.Impressions + total.Capped; attempts > 0 {
		share := float64(total.Capped) / float64(attempts) * 100
		if share > 50 {
			fmt.Printf("⚠️  %.1f%% of slot instances were capped - density or session caps may be too tight\n", share)
		}
	}
	if loads := total.Impressions + total.RequestFailures; loads > 0 {
		share := float64(total.RequestFailures) / float64(loads) * 100
		if share > 10 {
			fmt.Printf("⚠️  %.1f%% of creative loads failed - check the ad network\n", share)
		}
	}

	if len(report.Slots) > 1 {
		best, worst := report.Slots[0], report.Slots[0]
		for _, s := range report.Slots {
			if s.AvgDwellMs > best.AvgDwellMs {
				best = s
			}
			if s.AvgDwellMs < worst.AvgDwellMs && s.Impressions > 0 {
				worst = s
			}
		}
		if best.SlotID != worst.SlotID && worst.AvgDwellMs > 0 && best.AvgDwellMs > worst.AvgDwellMs*2 {
			fmt.Printf("📈 %s holds attention %.1fx longer than %s\n",
				best.SlotID, best.AvgDwellMs/worst.AvgDwellMs, worst.SlotID)
		}
	}

	fmt.Printf("═══════════════════════════════════════════════════════════════════════════════════\n")
}

// formatNumber formats large integers with comma separators for improved readability.
// Example: 1234567 becomes "1,234,567"
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, digit := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(digit)
	}
	return result
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

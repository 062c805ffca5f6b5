package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when the analytics DB is not configured.
var ErrUnavailable = errors.New("analytics unavailable")

// ClickHouseSink writes events into the ad_events table.
type ClickHouseSink struct {
	DB *sql.DB
}

// EventRecord mirrors a row in the ad_events table.
type EventRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	EventType  string    `json:"event_type"`
	PageViewID string    `json:"page_view_id"`
	SlotID     string    `json:"slot_id"`
	Position   *string   `json:"position"`
	DeviceType *string   `json:"device_type"`
	Country    *string   `json:"country"`
	VisibleMs  int64     `json:"visible_ms"`
	Ratio      float64   `json:"ratio"`
	Payload    string    `json:"payload"`
}

const createEventsTable = `CREATE TABLE IF NOT EXISTS ad_events (
       timestamp     DateTime64(3),
       event_type    LowCardinality(String),
       page_view_id  String,
       slot_id       String,
       position      Nullable(String),
       device_type   Nullable(String),
       country       Nullable(String),
       visible_ms    Int64,
       ratio         Float64,
       payload       String
   ) ENGINE=MergeTree() ORDER BY (event_type, slot_id, timestamp)`

// InitClickHouse connects to ClickHouse and ensures the ad_events table exists.
func InitClickHouse(dsn string, maxOpen int) (*ClickHouseSink, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if err := EnsureSchema(context.Background(), db); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to ClickHouse")
	return &ClickHouseSink{DB: db}, nil
}

// EnsureSchema creates the ad_events table if needed.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createEventsTable); err != nil {
		return fmt.Errorf("clickhouse create table: %w", err)
	}
	return nil
}

// Name identifies the sink in metrics.
func (c *ClickHouseSink) Name() string { return "clickhouse" }

// Write inserts a single event row.
func (c *ClickHouseSink) Write(ctx context.Context, ev Event) error {
	if c == nil || c.DB == nil {
		return ErrUnavailable
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.Name, err)
	}

	stmt := `INSERT INTO ad_events (timestamp, event_type, page_view_id, slot_id, position, device_type, country, visible_ms, ratio, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := c.DB.ExecContext(ctx, stmt,
		ev.Timestamp, ev.Name, ev.PageViewID, ev.SlotID,
		nullString(ev.Payload, "position"),
		nullString(ev.Payload, "device_type"),
		nullString(ev.Payload, "country"),
		payloadInt(ev.Payload, "accumulated_visible_ms"),
		payloadFloat(ev.Payload, "ratio"),
		string(payload),
	); err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Name, err)
	}
	return nil
}

// GetEventsByPageView returns all events for a page view ordered by timestamp.
func (c *ClickHouseSink) GetEventsByPageView(ctx context.Context, pageViewID string) ([]EventRecord, error) {
	if c == nil || c.DB == nil {
		return nil, ErrUnavailable
	}
	query := `SELECT timestamp, event_type, page_view_id, slot_id, position, device_type, country, visible_ms, ratio, payload FROM ad_events WHERE page_view_id=? ORDER BY timestamp`
	rows, err := c.DB.QueryContext(ctx, query, pageViewID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			zap.L().Warn("rows close", zap.Error(err))
		}
	}()

	var events []EventRecord
	for rows.Next() {
		var ev EventRecord
		if err := rows.Scan(&ev.Timestamp, &ev.EventType, &ev.PageViewID, &ev.SlotID, &ev.Position, &ev.DeviceType, &ev.Country, &ev.VisibleMs, &ev.Ratio, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

// Close terminates the ClickHouse connection.
func (c *ClickHouseSink) Close() {
	if c != nil && c.DB != nil {
		if err := c.DB.Close(); err != nil {
			zap.L().Error("clickhouse close", zap.Error(err))
		}
	}
}

func nullString(p map[string]any, key string) sql.NullString {
	if v, ok := p[key].(string); ok && v != "" {
		return sql.NullString{String: v, Valid: true}
	}
	return sql.NullString{}
}

func payloadInt(p map[string]any, key string) int64 {
	switch v := p[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func payloadFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

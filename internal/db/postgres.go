package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/openadview/internal/models"
)

// Postgres wraps a postgres DB connection holding slot configuration.
type Postgres struct {
	DB *sql.DB
}

// schemaSQL sets up the ad_slots table if it doesn't exist. seq preserves
// declaration order, which density re-admission and planner ties rely on.
const schemaSQL = `CREATE TABLE IF NOT EXISTS ad_slots (
    slot_id TEXT PRIMARY KEY,
    seq BIGSERIAL,
    position TEXT NOT NULL,
    priority TEXT NOT NULL,
    max_per_session INT NOT NULL,
    min_view_time_ms BIGINT NOT NULL DEFAULT 0,
    viewport_threshold DOUBLE PRECISION NOT NULL,
    page_types TEXT[],
    categories TEXT[],
    devices TEXT[],
    countries TEXT[],
    min_time_on_page_ms BIGINT NULL,
    min_scroll_depth_pct INT NULL,
    min_paragraph_gap INT NOT NULL DEFAULT 0,
    max_slots_in_content INT NOT NULL DEFAULT 0,
    active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_ad_slots_active_seq ON ad_slots (active, seq);
`

// InitPostgres connects to Postgres with connection pooling configuration.
func InitPostgres(dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres with connection pooling",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// EnsureSchema creates the required tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const slotColumns = `slot_id, position, priority, max_per_session, min_view_time_ms, viewport_threshold, page_types, categories, devices, countries, min_time_on_page_ms, min_scroll_depth_pct, min_paragraph_gap, max_slots_in_content`

// LoadSlots retrieves active slot configurations in declaration order.
func (p *Postgres) LoadSlots(ctx context.Context) ([]models.AdSlotConfig, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+slotColumns+` FROM ad_slots WHERE active ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query ad slots: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var slots []models.AdSlotConfig
	for rows.Next() {
		var s models.AdSlotConfig
		var position, priority string
		var minTime sql.NullInt64
		var minDepth sql.NullInt32
		if err := rows.Scan(&s.SlotID, &position, &priority, &s.MaxPerSession, &s.MinViewTimeMs, &s.ViewportThreshold,
			pq.Array(&s.Targeting.PageTypes), pq.Array(&s.Targeting.Categories),
			pq.Array(&s.Targeting.Devices), pq.Array(&s.Targeting.Countries),
			&minTime, &minDepth, &s.Placement.MinParagraphGap, &s.Placement.MaxSlotsInContent); err != nil {
			return nil, fmt.Errorf("scan ad slot: %w", err)
		}
		s.Position = models.Position(position)
		s.Priority = models.Priority(priority)
		if minTime.Valid {
			v := minTime.Int64
			s.Targeting.MinTimeOnPageMs = &v
		}
		if minDepth.Valid {
			v := int(minDepth.Int32)
			s.Targeting.MinScrollDepthPct = &v
		}
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return slots, nil
}

func slotArgs(s models.AdSlotConfig) []any {
	var minTime sql.NullInt64
	if s.Targeting.MinTimeOnPageMs != nil {
		minTime = sql.NullInt64{Int64: *s.Targeting.MinTimeOnPageMs, Valid: true}
	}
	var minDepth sql.NullInt32
	if s.Targeting.MinScrollDepthPct != nil {
		minDepth = sql.NullInt32{Int32: int32(*s.Targeting.MinScrollDepthPct), Valid: true}
	}
	return []any{
		s.SlotID, string(s.Position), string(s.Priority), s.MaxPerSession, s.MinViewTimeMs, s.ViewportThreshold,
		pq.Array(s.Targeting.PageTypes), pq.Array(s.Targeting.Categories),
		pq.Array(s.Targeting.Devices), pq.Array(s.Targeting.Countries),
		minTime, minDepth, s.Placement.MinParagraphGap, s.Placement.MaxSlotsInContent,
	}
}

// InsertSlot stores a new slot configuration.
func (p *Postgres) InsertSlot(ctx context.Context, s models.AdSlotConfig) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO ad_slots (`+slotColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`, slotArgs(s)...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("insert ad slot %s: %w", s.SlotID, models.ErrDuplicate)
		}
		return fmt.Errorf("insert ad slot %s: %w", s.SlotID, err)
	}
	return nil
}

// UpdateSlot replaces an existing slot configuration.
func (p *Postgres) UpdateSlot(ctx context.Context, s models.AdSlotConfig) error {
	res, err := p.DB.ExecContext(ctx, `UPDATE ad_slots SET position=$2, priority=$3, max_per_session=$4, min_view_time_ms=$5, viewport_threshold=$6, page_types=$7, categories=$8, devices=$9, countries=$10, min_time_on_page_ms=$11, min_scroll_depth_pct=$12, min_paragraph_gap=$13, max_slots_in_content=$14 WHERE slot_id=$1`, slotArgs(s)...)
	if err != nil {
		return fmt.Errorf("update ad slot %s: %w", s.SlotID, err)
	}
	return requireRow(res, s.SlotID)
}

// DeleteSlot removes a slot configuration.
func (p *Postgres) DeleteSlot(ctx context.Context, slotID string) error {
	res, err := p.DB.ExecContext(ctx, `DELETE FROM ad_slots WHERE slot_id=$1`, slotID)
	if err != nil {
		return fmt.Errorf("delete ad slot %s: %w", slotID, err)
	}
	return requireRow(res, slotID)
}

func requireRow(res sql.Result, slotID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("ad slot %s: %w", slotID, models.ErrNotFound)
	}
	return nil
}

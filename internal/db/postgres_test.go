package db

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/patrickwarner/openadview/internal/models"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Postgres{DB: db}, mock
}

func TestLoadSlots(t *testing.T) {
	pg, mock := newMockPostgres(t)
	rows := sqlmock.NewRows([]string{"slot_id", "position", "priority", "max_per_session", "min_view_time_ms", "viewport_threshold", "page_types", "categories", "devices", "countries", "min_time_on_page_ms", "min_scroll_depth_pct", "min_paragraph_gap", "max_slots_in_content"}).
		AddRow("hero", "hero-banner", "high", 1, int64(1000), 0.5, "{recipe,blog}", "{}", nil, nil, int64(5000), nil, 0, 0).
		AddRow("inline-1", "content-inline", "medium", 2, int64(1000), 0.5, nil, "{dessert}", "{mobile}", nil, nil, int64(40), 3, 3)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ad_slots WHERE active ORDER BY seq")).WillReturnRows(rows)

	slots, err := pg.LoadSlots(context.Background())
	if err != nil {
		t.Fatalf("load slots: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	hero := slots[0]
	if hero.Position != models.PositionHeroBanner || hero.Priority != models.PriorityHigh {
		t.Errorf("unexpected enums: %+v", hero)
	}
	if len(hero.Targeting.PageTypes) != 2 || hero.Targeting.PageTypes[1] != "blog" {
		t.Errorf("unexpected page types %v", hero.Targeting.PageTypes)
	}
	if hero.Targeting.MinTimeOnPageMs == nil || *hero.Targeting.MinTimeOnPageMs != 5000 {
		t.Errorf("expected min time 5000")
	}
	if hero.Targeting.MinScrollDepthPct != nil {
		t.Errorf("expected nil scroll depth")
	}
	inline := slots[1]
	if inline.Targeting.MinScrollDepthPct == nil || *inline.Targeting.MinScrollDepthPct != 40 {
		t.Errorf("expected scroll depth 40")
	}
	if inline.Placement.MinParagraphGap != 3 || inline.Targeting.Devices[0] != "mobile" {
		t.Errorf("unexpected inline slot %+v", inline)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertSlotDuplicate(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ad_slots")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := pg.InsertSlot(context.Background(), models.TestSlot("hero", models.PositionHeroBanner, models.PriorityHigh))
	if !errors.Is(err, models.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestInsertSlot(t *testing.T) {
	pg, mock := newMockPostgres(t)
	cfg := models.TestSlot("hero", models.PositionHeroBanner, models.PriorityHigh)
	cfg.Targeting.MinScrollDepthPct = models.IntPtr(25)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ad_slots")).
		WithArgs("hero", "hero-banner", "high", 1, int64(1000), 0.5,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			nil, int64(25), 0, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := pg.InsertSlot(context.Background(), cfg); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestUpdateAndDeleteMissingSlot(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE ad_slots")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM ad_slots")).WithArgs("ghost").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM ad_slots")).WithArgs("hero").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := pg.UpdateSlot(context.Background(), models.TestSlot("ghost", models.PositionFooter, models.PriorityLow)); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
	if err := pg.DeleteSlot(context.Background(), "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
	if err := pg.DeleteSlot(context.Background(), "hero"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEnsureSchema(t *testing.T) {
	pg, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS ad_slots")).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := pg.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
}

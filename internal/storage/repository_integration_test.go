//go:build integration
// +build integration

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/lib/pq"
	goose "github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/guttosm/reconpulse/internal/domain/models"
)

// startPostgres spins up a Postgres container and returns a DSN and terminate func.
func startPostgres(t *testing.T) (dsn string, terminate func()) {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "reconpulse",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "postgres", func(host string, port nat.Port) string {
			return fmt.Sprintf("host=%s port=%s user=postgres password=postgres dbname=reconpulse sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second),
	}

	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("container start: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}

	dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", "postgres", "postgres", host, port.Port(), "reconpulse")
	terminate = func() { _ = container.Terminate(context.Background()) }
	return dsn, terminate
}

func openDB(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return db
}

func runMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	if err := goose.SetDialect("postgres"); err != nil {
		t.Fatalf("dialect: %v", err)
	}
	// migrations path relative to this test file (internal/storage → ../../db/migrations)
	path := filepath.Join("..", "..", "db", "migrations")
	if err := goose.Up(db, path); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
}

func integrationTrade(source models.Source, ref string, day time.Time, price string) models.TradeRecord {
	return models.TradeRecord{
		Source:       source,
		ExternalRef:  ref,
		TradeDate:    day,
		Symbol:       "AAPL",
		Side:         models.SideBuy,
		Quantity:     decimal.NewFromInt(100),
		Price:        decimal.RequireFromString(price),
		Currency:     "USD",
		Counterparty: "ACME",
	}
}

func integrationBreak(id string, status models.BreakStatus, createdAt time.Time) models.Break {
	return models.Break{
		ID:       id,
		RunID:    "run-1",
		Category: models.CategoryPriceMismatch,
		Severity: models.SeverityLow,
		Status:   status,
		SourceRefs: []models.SourceRef{
			{Source: models.SourceOMS, ExternalRef: "T-" + id},
			{Source: models.SourceCustodian, ExternalRef: "C-" + id},
		},
		DeviationBps: 4.2,
		Notional:     5_000,
		CreatedAt:    createdAt,
	}
}

func TestRepositories_Integration(t *testing.T) {
	dsn, terminate := startPostgres(t)
	defer terminate()
	db := openDB(t, dsn)
	defer db.Close()
	runMigrations(t, db)

	ctx := context.Background()
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	trades := NewTradeRepository(db)
	breaks := NewBreakRepository(db)
	runs := NewRunRepository(db)

	t.Run("trade copy round trip", func(t *testing.T) {
		err := trades.InsertBatch(ctx, []models.TradeRecord{
			integrationTrade(models.SourceOMS, "T1", day, "187.25"),
			integrationTrade(models.SourceOMS, "T2", day, "402.1"),
			integrationTrade(models.SourceCustodian, "C1", day, "187.25"),
			integrationTrade(models.SourceOMS, "X1", day.AddDate(0, 0, 1), "10"),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}

		got, err := trades.ListByDateSource(ctx, day, models.SourceOMS)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len=%d, want 2 (other source and other day excluded)", len(got))
		}
		if got[0].ExternalRef != "T1" || got[1].ExternalRef != "T2" {
			t.Fatalf("order: %s, %s", got[0].ExternalRef, got[1].ExternalRef)
		}
		if !got[0].Price.Equal(decimal.RequireFromString("187.25")) {
			t.Fatalf("price round trip: %s", got[0].Price)
		}
	})

	t.Run("break create is idempotent", func(t *testing.T) {
		now := time.Now().UTC()
		batch := []models.Break{
			integrationBreak("b1", models.StatusOpen, now),
			integrationBreak("b2", models.StatusOpen, now),
		}
		created, suppressed, err := breaks.CreateAllIfAbsent(ctx, batch)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if created != 2 || suppressed != 0 {
			t.Fatalf("created=%d suppressed=%d, want 2/0", created, suppressed)
		}

		created, suppressed, err = breaks.CreateAllIfAbsent(ctx, batch)
		if err != nil {
			t.Fatalf("recreate: %v", err)
		}
		if created != 0 || suppressed != 2 {
			t.Fatalf("created=%d suppressed=%d, want 0/2", created, suppressed)
		}
	})

	t.Run("compare and swap", func(t *testing.T) {
		b, err := breaks.Get(ctx, "b1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		b.Status = models.StatusRouted
		b.Owner = "ops_analyst"
		b.SLADeadline = time.Now().UTC().Add(8 * time.Hour)

		ok, err := breaks.CompareAndSwap(ctx, models.StatusOpen, 0, *b)
		if err != nil || !ok {
			t.Fatalf("first swap: ok=%v err=%v", ok, err)
		}
		// Stale expectation loses.
		ok, err = breaks.CompareAndSwap(ctx, models.StatusOpen, 0, *b)
		if err != nil {
			t.Fatalf("second swap: %v", err)
		}
		if ok {
			t.Fatal("stale swap applied")
		}
	})

	t.Run("escalate appends exactly one event", func(t *testing.T) {
		b, err := breaks.Get(ctx, "b1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		next := *b
		next.Status = models.StatusEscalated
		next.EscalationLevel = 1
		next.Owner = "ops_manager"
		ev := models.EscalationEvent{
			BreakID: b.ID, FromLevel: 0, ToLevel: 1,
			FromOwner: b.Owner, ToOwner: next.Owner, At: time.Now().UTC(),
		}

		ok, err := breaks.Escalate(ctx, b.Status, b.EscalationLevel, next, ev)
		if err != nil || !ok {
			t.Fatalf("escalate: ok=%v err=%v", ok, err)
		}
		// The same expectation can never fire twice.
		ok, err = breaks.Escalate(ctx, b.Status, b.EscalationLevel, next, ev)
		if err != nil {
			t.Fatalf("re-escalate: %v", err)
		}
		if ok {
			t.Fatal("stale escalation applied")
		}

		events, err := breaks.Escalations(ctx, b.ID)
		if err != nil {
			t.Fatalf("events: %v", err)
		}
		if len(events) != 1 || events[0].ToLevel != 1 {
			t.Fatalf("events=%+v, want one level-1 event", events)
		}
	})

	t.Run("overdue listing", func(t *testing.T) {
		overdue, err := breaks.ListOverdue(ctx, time.Now().UTC().Add(24*time.Hour))
		if err != nil {
			t.Fatalf("overdue: %v", err)
		}
		if len(overdue) != 1 || overdue[0].ID != "b1" {
			t.Fatalf("overdue=%+v, want only the escalated break", overdue)
		}
	})

	t.Run("run lifecycle", func(t *testing.T) {
		run := models.ReconciliationRun{
			ID:        "run-1",
			TradeDate: day,
			Source1:   models.SourceOMS,
			Source2:   models.SourceCustodian,
			StartedAt: time.Now().UTC(),
			Status:    models.RunRunning,
		}
		if err := runs.CreateRun(ctx, run); err != nil {
			t.Fatalf("create: %v", err)
		}

		at := time.Now().UTC()
		run.FinishedAt = &at
		run.Status = models.RunCompleted
		run.Counts = models.RunCounts{Matched: 2, BreaksCreated: 2}
		if err := runs.FinishRun(ctx, run); err != nil {
			t.Fatalf("finish: %v", err)
		}
		// Finished runs are immutable.
		if err := runs.FinishRun(ctx, run); err != ErrNotFound {
			t.Fatalf("refinish err=%v, want ErrNotFound", err)
		}

		got, err := runs.GetRun(ctx, "run-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status != models.RunCompleted || got.Counts.Matched != 2 {
			t.Fatalf("run: %+v", got)
		}
	})
}

package ingestion

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/guttosm/reconpulse/internal/domain/models"
	"github.com/guttosm/reconpulse/internal/logger"
	"github.com/guttosm/reconpulse/internal/normalize"
	"github.com/guttosm/reconpulse/internal/storage"
)

// expectedHeaders enforces strict column ordering for raw source batch
// files. If the header doesn't match EXACTLY (order + count), ingestion of
// that file must fail.
var expectedHeaders = []string{
	"external_ref",
	"trade_date",
	"symbol",
	"side",
	"quantity",
	"price",
	"currency",
	"settlement_date",
	"counterparty",
}

// parseAndPersistFile opens, validates, parses, normalizes and persists one
// raw batch file for the given source, in batches.
//
// It fails on a header not matching the expected order/length and on
// unrecoverable I/O errors. Individual malformed rows are skipped and
// counted; they never abort the file.
func parseAndPersistFile(ctx context.Context, path string, source models.Source, repo storage.TradeStore, batch int) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // allow variable but we'll check explicitly

	header, err := r.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("read header: %w", err)
	}
	if len(header) != len(expectedHeaders) {
		return 0, 0, fmt.Errorf("invalid header length: expected %d, got %d", len(expectedHeaders), len(header))
	}
	for i, h := range header {
		if strings.TrimSpace(h) != expectedHeaders[i] {
			return 0, 0, fmt.Errorf("invalid header at col %d: expected %q, got %q", i+1, expectedHeaders[i], h)
		}
	}

	buf := make([]models.TradeRecord, 0, batch)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := repo.InsertBatch(ctx, buf); err != nil {
			return err
		}
		buf = buf[:0]
		return nil
	}

	total, skipped := 0, 0
	line := 1 // header already read

	for {
		select {
		case <-ctx.Done():
			return total, skipped, ctx.Err()
		default:
		}

		row, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return total, skipped, fmt.Errorf("read line %d: %w", line+1, err)
		}
		line++

		rec, err := rowToRecord(row, source)
		if err != nil {
			skipped++
			logger.L().Warn().Str("file", path).Int("line", line).Err(err).Msg("row skipped")
			continue
		}

		buf = append(buf, rec)
		total++
		if len(buf) >= batch {
			if err := flush(); err != nil {
				return total, skipped, err
			}
		}
	}

	if err := flush(); err != nil {
		return total, skipped, err
	}
	return total, skipped, nil
}

// rowToRecord coerces one CSV row into a canonical TradeRecord:
// normalization of symbol, side, currency and counterparty happens here so
// the matcher only ever sees canonical shapes.
func rowToRecord(row []string, source models.Source) (models.TradeRecord, error) {
	if len(row) != len(expectedHeaders) {
		return models.TradeRecord{}, fmt.Errorf("expected %d columns, got %d", len(expectedHeaders), len(row))
	}

	get := func(i int) string { return strings.TrimSpace(row[i]) }

	tradeDate, err := time.Parse("2006-01-02", get(1))
	if err != nil {
		return models.TradeRecord{}, fmt.Errorf("trade_date: %w", err)
	}

	quantity, err := decimal.NewFromString(get(4))
	if err != nil {
		return models.TradeRecord{}, fmt.Errorf("quantity: %w", err)
	}
	price, err := decimal.NewFromString(get(5))
	if err != nil {
		return models.TradeRecord{}, fmt.Errorf("price: %w", err)
	}

	var settlement time.Time
	if s := get(7); s != "" {
		settlement, err = time.Parse("2006-01-02", s)
		if err != nil {
			return models.TradeRecord{}, fmt.Errorf("settlement_date: %w", err)
		}
	}

	rec := models.TradeRecord{
		Source:         source,
		ExternalRef:    get(0),
		TradeDate:      tradeDate,
		Symbol:         normalize.Symbol(get(2)),
		Side:           models.Side(normalize.Side(get(3))),
		Quantity:       normalize.Amount(quantity, 4),
		Price:          normalize.Amount(price, 6),
		Currency:       normalize.Currency(get(6)),
		SettlementDate: settlement,
		Counterparty:   normalize.Counterparty(get(8)),
	}
	if err := rec.Validate(); err != nil {
		return models.TradeRecord{}, err
	}
	return rec, nil
}

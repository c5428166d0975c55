// Package archive mirrors the recycler event log into a SQL database so that
// events can be filtered by type and participant.
package archive

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm/logger"

	"recycler/core/state"
	"recycler/core/types"
	telemetry "recycler/observability/otel"
)

var ErrChainBroken = errors.New("archive: event chain does not extend archived head")

const defaultBatch = 256

// EventRow is the archived form of one event log record.
type EventRow struct {
	Sequence    uint64 `gorm:"primaryKey;autoIncrement:false"`
	Type        string `gorm:"index;not null"`
	Participant string `gorm:"index"`
	Attributes  string `gorm:"type:text;not null"`
	PrevHash    string `gorm:"size:66;not null"`
	Hash        string `gorm:"size:66;uniqueIndex;not null"`
	ArchivedAt  time.Time
}

// TableName pins the table name regardless of gorm naming strategy.
func (EventRow) TableName() string { return "recycler_events" }

// Attrs decodes the stored attribute map.
func (r EventRow) Attrs() (map[string]string, error) {
	out := map[string]string{}
	if err := json.Unmarshal([]byte(r.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Source is the authoritative event log.
type Source interface {
	Events(offset, limit uint64) ([]state.EventRecord, uint64, error)
}

// Open connects to the archive database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres", "postgresql":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", driver)
	}
}

// Archive copies records from Source into EventRow.
type Archive struct {
	db     *gorm.DB
	src    Source
	batch  uint64
	logger *slog.Logger
}

// New migrates the schema and returns an archive reading from src.
func New(db *gorm.DB, src Source, logger *slog.Logger) (*Archive, error) {
	if db == nil || src == nil {
		return nil, errors.New("archive: database and source required")
	}
	if err := db.AutoMigrate(&EventRow{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{db: db, src: src, batch: defaultBatch, logger: logger}, nil
}

func encodeHash(h [32]byte) string {
	return "0x" + hex.EncodeToString(h[:])
}

func rowFrom(rec state.EventRecord, now time.Time) (EventRow, error) {
	ev := rec.Event()
	encoded, err := json.Marshal(ev.Attributes)
	if err != nil {
		return EventRow{}, err
	}
	return EventRow{
		Sequence:    rec.Sequence,
		Type:        rec.Type,
		Participant: ev.Attr(types.ParticipantKey),
		Attributes:  string(encoded),
		PrevHash:    encodeHash(rec.PrevHash),
		Hash:        encodeHash(rec.Hash),
		ArchivedAt:  now,
	}, nil
}

func (a *Archive) head(ctx context.Context) (*EventRow, error) {
	var row EventRow
	err := a.db.WithContext(ctx).Order("sequence desc").Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.Hash == "" {
		return nil, nil
	}
	return &row, nil
}

// Sync archives every record past the archived head and returns how many
// rows were written. Each batch is inserted in one transaction.
func (a *Archive) Sync(ctx context.Context) (written int, err error) {
	ctx, span := telemetry.Tracer("recycler/archive").Start(ctx, "archive.sync")
	defer func() {
		span.SetAttributes(attribute.Int("archive.rows", written))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()
	head, err := a.head(ctx)
	if err != nil {
		return 0, fmt.Errorf("archive: load head: %w", err)
	}
	next := uint64(0)
	prev := encodeHash([32]byte{})
	if head != nil {
		next = head.Sequence + 1
		prev = head.Hash
	}
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		records, _, err := a.src.Events(next, a.batch)
		if err != nil {
			return written, fmt.Errorf("archive: read events: %w", err)
		}
		if len(records) == 0 {
			return written, nil
		}
		now := time.Now().UTC()
		rows := make([]EventRow, 0, len(records))
		for _, rec := range records {
			if rec.Sequence != next || encodeHash(rec.PrevHash) != prev {
				return written, fmt.Errorf("%w at sequence %d", ErrChainBroken, rec.Sequence)
			}
			row, err := rowFrom(rec, now)
			if err != nil {
				return written, err
			}
			rows = append(rows, row)
			prev = row.Hash
			next++
		}
		if err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Create(&rows).Error
		}); err != nil {
			return written, fmt.Errorf("archive: insert: %w", err)
		}
		written += len(rows)
	}
}

// Run syncs on every tick until ctx is cancelled.
func (a *Archive) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := a.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("archive: sync failed", "error", err)
		} else if n > 0 {
			a.logger.Debug("archive: synced events", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Filter selects archived events. Zero values match everything.
type Filter struct {
	Type        string
	Participant string
	After       *uint64
	Limit       int
}

const maxQueryLimit = 500

// Query returns archived events in sequence order.
func (a *Archive) Query(ctx context.Context, f Filter) ([]EventRow, error) {
	q := a.db.WithContext(ctx).Model(&EventRow{}).Order("sequence asc")
	if t := strings.TrimSpace(f.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if p := strings.TrimSpace(f.Participant); p != "" {
		q = q.Where("participant = ?", p)
	}
	if f.After != nil {
		q = q.Where("sequence > ?", *f.After)
	}
	limit := f.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	var rows []EventRow
	if err := q.Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	return rows, nil
}

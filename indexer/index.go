// Package indexer keeps a queryable SQL record of executed transactions and
// the entities they created. It subscribes to executor events.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	engerrors "resengine/core/errors"
	"resengine/core/events"
)

// Transaction is one executed transaction. A hash executed again replaces
// the earlier row.
type Transaction struct {
	Hash         string `gorm:"primaryKey;size:66"`
	Outcome      string `gorm:"index;size:16"`
	ErrorKind    string `gorm:"index;size:32"`
	CostConsumed uint64
	DiffEntries  int
	Events       int
	IndexedAt    time.Time
}

// Entity records which transaction created an entity.
type Entity struct {
	Address   string `gorm:"primaryKey;size:96"`
	Kind      string `gorm:"index;size:16"`
	TxHash    string `gorm:"index;size:66"`
	CreatedAt time.Time
}

// Index is an events.Emitter writing to a gorm database.
type Index struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to dsn and migrates the schema. postgres:// and
// postgresql:// DSNs use Postgres; anything else is a sqlite file path.
func Open(dsn string, logger *slog.Logger) (*Index, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("indexer: DSN required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	if err := db.AutoMigrate(&Transaction{}, &Entity{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Index{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the database connection pool.
func (ix *Index) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit records executor events. Write failures are logged; they never affect
// the transaction that produced the event.
func (ix *Index) Emit(ev events.Event) {
	var err error
	switch e := ev.(type) {
	case events.TransactionExecuted:
		row := Transaction{
			Hash:         e.TxHash.Hex(),
			Outcome:      string(e.Outcome),
			ErrorKind:    e.ErrorKind,
			CostConsumed: e.CostConsumed,
			DiffEntries:  e.DiffEntries,
			Events:       e.Events,
			IndexedAt:    ix.now().UTC(),
		}
		err = ix.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
	case events.EntityCreated:
		row := Entity{
			Address:   e.Entity.String(),
			Kind:      e.Entity.Kind().String(),
			TxHash:    e.TxHash.Hex(),
			CreatedAt: ix.now().UTC(),
		}
		err = ix.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	default:
		return
	}
	if err != nil {
		ix.logger.Warn("indexer write failed", slog.String("event", ev.EventType()), slog.Any("error", err))
	}
}

// Transaction looks up the latest record for hash.
func (ix *Index) Transaction(ctx context.Context, hash common.Hash) (*Transaction, error) {
	var row Transaction
	err := ix.db.WithContext(ctx).First(&row, "hash = ?", hash.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: transaction %s", engerrors.ErrNotFound, hash.Hex())
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Entities lists the entities created by hash in address order.
func (ix *Index) Entities(ctx context.Context, hash common.Hash) ([]Entity, error) {
	var rows []Entity
	err := ix.db.WithContext(ctx).Where("tx_hash = ?", hash.Hex()).Order("address").Find(&rows).Error
	return rows, err
}

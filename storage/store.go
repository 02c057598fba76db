package storage

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ═══════════════════════════════════════════════════════════════════════════════
// GORM STORE - gorm-backed StateStore + queryable trade index
// ═══════════════════════════════════════════════════════════════════════════════
//
// The shutdown snapshot document (raw JSON blob, one row, upserted on every
// save) and the structured trade index (one row per closed trade, queryable
// for dashboards) both live in the same database. sqlite is the default
// dry-run/dev driver; set DATABASE_URL to switch to postgres in production.
//
// ═══════════════════════════════════════════════════════════════════════════════

// stateRecord is the single-row table holding the latest shutdown snapshot.
type stateRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Data      []byte `gorm:"type:bytea"`
	UpdatedAt time.Time
}

// TradeRecord is the queryable trade index, one row per closed trade.
type TradeRecord struct {
	ID          string `gorm:"primaryKey"`
	MarketLabel string
	Asset       string
	Side        string
	EntryPrice  string
	ExitPrice   string
	Size        string
	PnL         string
	ExitReason  string
	OpenedAt    time.Time
	ClosedAt    time.Time
}

type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a gorm connection, defaulting to a local sqlite file
// unless DATABASE_URL is set, in which case it connects to postgres.
func NewGormStore(sqlitePath string) (*GormStore, error) {
	var dialector gorm.Dialector
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		dialector = postgres.Open(dsn)
	} else {
		if sqlitePath == "" {
			sqlitePath = "polyarb.db"
		}
		dialector = sqlite.Open(sqlitePath)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&stateRecord{}, &TradeRecord{}); err != nil {
		return nil, err
	}

	log.Info().Msg("💾 state store connected")
	return &GormStore{db: db}, nil
}

// SaveState upserts the single shutdown-snapshot row.
func (s *GormStore) SaveState(data []byte) error {
	rec := stateRecord{ID: 1, Data: data, UpdatedAt: time.Now()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec).Error
}

// LoadState returns (nil, nil) when no prior snapshot exists.
func (s *GormStore) LoadState() ([]byte, error) {
	var rec stateRecord
	err := s.db.First(&rec, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

// IndexTrade records a closed trade in the queryable index, keyed by trade
// id so a reconciled trade never double-counts.
func (s *GormStore) IndexTrade(rec TradeRecord) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"exit_price", "pnl", "exit_reason", "closed_at"}),
	}).Create(&rec).Error
}

// RecentTrades returns the most recently closed trades, newest first.
func (s *GormStore) RecentTrades(limit int) ([]TradeRecord, error) {
	var recs []TradeRecord
	err := s.db.Order("closed_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// TableNames lists every table the migrator knows about, for the
// inspection path in scripts/db_setup.go.
func (s *GormStore) TableNames() ([]string, error) {
	return s.db.Migrator().GetTables()
}

// RowCount returns the row count of an arbitrary table name already
// returned by TableNames.
func (s *GormStore) RowCount(table string) (int64, error) {
	var count int64
	err := s.db.Table(table).Count(&count).Error
	return count, err
}

// ResetSchema drops and recreates both managed tables. Destructive --
// callers must gate this behind an explicit opt-in.
func (s *GormStore) ResetSchema() error {
	if err := s.db.Migrator().DropTable(&stateRecord{}, &TradeRecord{}); err != nil {
		return err
	}
	return s.db.AutoMigrate(&stateRecord{}, &TradeRecord{})
}

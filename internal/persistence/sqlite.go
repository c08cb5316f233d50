package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/haldvik/skribo/internal/document"
)

const feedRowID = 1

type accountRecord struct {
	AccountID        string `gorm:"column:account_id;primaryKey;size:190;not null"`
	Secret           string `gorm:"column:secret;type:text;not null;default:''"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (accountRecord) TableName() string {
	return "account_documents"
}

type feedRecord struct {
	ID               int64  `gorm:"column:id;primaryKey"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

func (feedRecord) TableName() string {
	return "feed_state"
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("persistence: database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&accountRecord{}, &feedRecord{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// SQLiteAdapter persists the archive in SQLite: one row per account holding
// the document payload JSON, plus a single row for the shared feed.
type SQLiteAdapter struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLite constructs a SQLite-backed adapter.
func NewSQLite(db *gorm.DB) (*SQLiteAdapter, error) {
	if db == nil {
		return nil, fmt.Errorf("persistence: database handle is required")
	}
	return &SQLiteAdapter{db: db, clock: time.Now}, nil
}

// Load reassembles the archive from the account and feed tables.
func (a *SQLiteAdapter) Load(ctx context.Context) (document.Archive, error) {
	var records []accountRecord
	if err := a.db.WithContext(ctx).Find(&records).Error; err != nil {
		return document.Archive{}, fmt.Errorf("persistence: query accounts: %w", err)
	}

	archive := document.Archive{Version: 1, Accounts: map[string]document.Account{}}
	for _, record := range records {
		var doc document.Document
		if err := json.Unmarshal([]byte(record.PayloadJSON), &doc); err != nil {
			return document.Archive{}, fmt.Errorf("persistence: decode account %s: %w", record.AccountID, err)
		}
		archive.Accounts[record.AccountID] = document.Account{
			Secret:   record.Secret,
			Document: doc,
		}
	}

	var feed feedRecord
	err := a.db.WithContext(ctx).Where("id = ?", feedRowID).Take(&feed).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return document.Archive{}, fmt.Errorf("persistence: query feed: %w", err)
	}
	if err == nil && feed.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(feed.PayloadJSON), &archive.Feed); err != nil {
			return document.Archive{}, fmt.Errorf("persistence: decode feed: %w", err)
		}
	}

	archive.Normalize()
	return archive, nil
}

// Save rewrites every account row and the feed row inside one transaction.
// Accounts absent from the archive are removed.
func (a *SQLiteAdapter) Save(ctx context.Context, archive document.Archive) error {
	now := a.clock().UTC().Unix()
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(archive.Accounts))
		for id, account := range archive.Accounts {
			payload, err := json.Marshal(account.Document)
			if err != nil {
				return fmt.Errorf("persistence: encode account %s: %w", id, err)
			}
			record := accountRecord{
				AccountID:        id,
				Secret:           account.Secret,
				PayloadJSON:      string(payload),
				UpdatedAtSeconds: now,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error; err != nil {
				return fmt.Errorf("persistence: save account %s: %w", id, err)
			}
			ids = append(ids, id)
		}
		prune := tx.Where("1 = 1")
		if len(ids) > 0 {
			prune = tx.Where("account_id NOT IN ?", ids)
		}
		if err := prune.Delete(&accountRecord{}).Error; err != nil {
			return fmt.Errorf("persistence: prune accounts: %w", err)
		}

		feedPayload, err := json.Marshal(archive.Feed)
		if err != nil {
			return fmt.Errorf("persistence: encode feed: %w", err)
		}
		feed := feedRecord{ID: feedRowID, PayloadJSON: string(feedPayload), UpdatedAtSeconds: now}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&feed).Error; err != nil {
			return fmt.Errorf("persistence: save feed: %w", err)
		}
		return nil
	})
}

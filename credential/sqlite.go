package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	iam "github.com/chimerakang/jobboard-iam"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is the persisted row of the sqlite driver.
type Record struct {
	Slot      string `gorm:"primaryKey;size:128"`
	Token     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName returns the database table name for Record.
func (Record) TableName() string {
	return "credentials"
}

// SQLite keeps the token in a gorm-managed table.
type SQLite struct {
	db     *gorm.DB
	key    string
	logger *slog.Logger
}

var _ iam.CredentialStore = (*SQLite)(nil)

// NewSQLite builds a SQLite-backed credential store and migrates its table.
func NewSQLite(db *gorm.DB, cfg Config) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("iam/credential: sqlite store requires database handle")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("iam/credential: migrate: %w", err)
	}
	return &SQLite{db: db, key: cfg.key(), logger: cfg.logger()}, nil
}

func (s *SQLite) Save(ctx context.Context, token string) error {
	rec := &Record{Slot: s.key, Token: token, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slot"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("iam/credential: sqlite save: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context) (string, bool) {
	var rec Record
	err := s.db.WithContext(ctx).Where("slot = ?", s.key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("credential sqlite read failed", "key", s.key, "error", err)
		return "", false
	}
	return rec.Token, true
}

func (s *SQLite) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("slot = ?", s.key).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("iam/credential: sqlite clear: %w", err)
	}
	return nil
}

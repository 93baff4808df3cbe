package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"emotrack-go/internal/types"
)

// DBConfig controls GORM/PostgreSQL connectivity.
type DBConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        gormlogger.LogLevel
}

// Connect initializes a GORM connection using the provided config.
func Connect(cfg DBConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = gormlogger.Warn
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		PrepareStmt: true,
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		Logger: gormlogger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("retrieve sql db: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// AutoMigrate applies schema changes for responses, alerts and app config.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&Response{}, &Alert{}, &AppConfig{})
}

// GormStore is the PostgreSQL-backed UnitOfWork.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) GetResponse(ctx context.Context, id int64) (*types.ResponseRecord, error) {
	var e Response
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get response %d: %w", id, err)
	}
	return responseFromEntity(&e)
}

func (s *GormStore) CreateResponse(ctx context.Context, r *types.ResponseRecord) error {
	e, err := responseToEntity(r)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("create response: %w", err)
	}
	r.ID = e.ID
	r.CreatedAt = e.CreatedAt
	return nil
}

func (s *GormStore) SaveResponse(ctx context.Context, r *types.ResponseRecord) error {
	if r.ID == 0 {
		return fmt.Errorf("save response: missing id")
	}
	e, err := responseToEntity(r)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Save(e)
	if res.Error != nil {
		return fmt.Errorf("save response %d: %w", r.ID, res.Error)
	}
	return nil
}

func (s *GormStore) RecentResponses(ctx context.Context, childID int64, limit int) ([]types.ResponseRecord, error) {
	var rows []Response
	err := s.db.WithContext(ctx).
		Where("child_id = ? AND status = ?", childID, string(types.StatusCompleted)).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent responses for child %d: %w", childID, err)
	}

	out := make([]types.ResponseRecord, 0, len(rows))
	for i := range rows {
		r, err := responseFromEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	slices.Reverse(out)
	return out, nil
}

func (s *GormStore) CreateAlert(ctx context.Context, a *types.AlertRecord) error {
	e := alertToEntity(a)
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	a.ID = e.ID
	a.CreatedAt = e.CreatedAt
	return nil
}

func (s *GormStore) RecentAlertExists(ctx context.Context, childID int64, ruleType types.RuleType, ruleVersion string, since time.Time) (bool, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&Alert{}).
		Where("child_id = ? AND type = ? AND rule_version = ? AND created_at >= ?", childID, string(ruleType), ruleVersion, since).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, fmt.Errorf("alert dedup lookup: %w", err)
	}
	return len(ids) > 0, nil
}

func (s *GormStore) ListAlerts(ctx context.Context, childID int64, limit int) ([]types.AlertRecord, error) {
	var rows []Alert
	err := s.db.WithContext(ctx).
		Where("child_id = ?", childID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list alerts for child %d: %w", childID, err)
	}
	out := make([]types.AlertRecord, 0, len(rows))
	for i := range rows {
		out = append(out, alertFromEntity(&rows[i]))
	}
	return out, nil
}

func (s *GormStore) ConfigOverrides(ctx context.Context, prefix string) (map[string]string, error) {
	var rows []AppConfig
	if err := s.db.WithContext(ctx).Where("key LIKE ?", prefix+"%").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load config overrides: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *GormStore) SetConfig(ctx context.Context, key, value string) error {
	row := AppConfig{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by Get for an unknown record id.
var ErrNotFound = errors.New("prediction record not found")

// Config 历史记录存储配置
type Config struct {
	// Driver: sqlite | postgres | mysql
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`

	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`

	// MaxRetries bounds retries of a write that failed with a transient error.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// DefaultConfig 返回默认配置：本地 sqlite 文件
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite",
		DSN:             "promptflow.db",
		MaxIdleConns:    2,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
		MaxRetries:      3,
	}
}

// QueryObserver receives the latency of each store operation.
type QueryObserver func(operation string, duration time.Duration)

// Store persists prediction records through GORM.
type Store struct {
	db         *gorm.DB
	maxRetries int
	logger     *zap.Logger
	observer   QueryObserver
}

// Dialector picks the GORM dialector for cfg.Driver.
func Dialector(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return sqlite.Open(cfg.DSN), nil
	case "postgres", "postgresql":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}
}

// Open connects to the configured database and migrates the record table.
func Open(cfg Config, log *zap.Logger) (*Store, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
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

	s := New(db, cfg.MaxRetries, log)
	if err := s.Migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	s.logger.Info("history store opened", zap.String("driver", dialector.Name()))
	return s, nil
}

// New wraps an open GORM handle. It does not migrate.
func New(db *gorm.DB, maxRetries int, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Store{db: db, maxRetries: maxRetries, logger: log.With(zap.String("component", "history"))}
}

// Observe installs fn as the latency observer and returns s.
func (s *Store) Observe(fn QueryObserver) *Store {
	s.observer = fn
	return s
}

func (s *Store) observe(operation string, start time.Time) {
	if s.observer != nil {
		s.observer(operation, time.Since(start))
	}
}

// Migrate creates or updates the record table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&PredictionRecord{}); err != nil {
		return fmt.Errorf("migrate prediction records: %w", err)
	}
	return nil
}

// Record stores rec, assigning an id and timestamp when missing.
func (s *Store) Record(ctx context.Context, rec *PredictionRecord) error {
	if rec == nil {
		return errors.New("history: nil record")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	// Stored in UTC so text-backed drivers compare timestamps correctly.
	rec.CreatedAt = rec.CreatedAt.UTC()

	defer s.observe("record", time.Now())
	err := s.withTransactionRetry(ctx, func(tx *gorm.DB) error {
		return tx.Create(rec).Error
	})
	if err != nil {
		return fmt.Errorf("record prediction %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one record by id.
func (s *Store) Get(ctx context.Context, id string) (*PredictionRecord, error) {
	defer s.observe("get", time.Now())
	var rec PredictionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prediction %s: %w", id, err)
	}
	return &rec, nil
}

// List returns the records matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]PredictionRecord, error) {
	defer s.observe("list", time.Now())
	q := s.db.WithContext(ctx).Model(&PredictionRecord{})
	if f.TraceID != "" {
		q = q.Where("trace_id = ?", f.TraceID)
	}
	if f.Model != "" {
		q = q.Where("model = ?", f.Model)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []PredictionRecord
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	return out, nil
}

// Prune deletes records created before cutoff and reports how many.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	defer s.observe("prune", time.Now())
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&PredictionRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune predictions: %w", res.Error)
	}
	s.logger.Info("pruned prediction records", zap.Int64("deleted", res.RowsAffected), zap.Time("cutoff", cutoff))
	return res.RowsAffected, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) withTransactionRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for i := 0; i < s.maxRetries; i++ {
		err := s.db.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryableError(err) || i == s.maxRetries-1 {
			break
		}

		s.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_retries", s.maxRetries),
			zap.Error(err))

		backoff := time.Duration(1<<uint(i)) * 50 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

// isRetryableError reports transient failures: deadlocks, serialization
// failures, lock timeouts and dropped connections.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"deadlock",
		"serialization failure", "40001",
		"connection reset", "connection refused", "broken pipe", "bad connection",
		"lock timeout", "lock wait timeout",
		"database is locked",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

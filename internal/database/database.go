package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gluk-w/online-ide/internal/config"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidTTL      = errors.New("project ttl out of range")
)

// MaxProjectTTL bounds project lifetimes well below time.Duration overflow.
const MaxProjectTTL = 100 * 365 * 24 * time.Hour

// TTLFromSeconds converts a client-supplied lifetime. Zero or less means
// the project never expires.
func TTLFromSeconds(sec int64) (time.Duration, error) {
	if sec <= 0 {
		return 0, nil
	}
	if sec > int64(MaxProjectTTL/time.Second) {
		return 0, fmt.Errorf("%w: %d seconds, max %d", ErrInvalidTTL, sec, int64(MaxProjectTTL/time.Second))
	}
	return time.Duration(sec) * time.Second, nil
}

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA cache_size=-31250"); err != nil {
		return fmt.Errorf("set cache size: %w", err)
	}

	if err := DB.AutoMigrate(&Project{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// CreateProject stores a new project with freshly generated public and edit IDs.
func CreateProject(lang, pass string, ttl time.Duration) (*Project, error) {
	if ttl > MaxProjectTTL {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	if ttl < 0 {
		ttl = 0
	}
	p := &Project{
		PublicID: uuid.New().String(),
		EditID:   uuid.New().String(),
		Pass:     pass,
		Lang:     lang,
		TTL:      int64(ttl / time.Second),
	}
	if err := DB.Create(p).Error; err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func GetProjectByPublicID(id string) (*Project, error) {
	var p Project
	if err := DB.Where("public_id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

func GetProjectByEditID(id string) (*Project, error) {
	var p Project
	if err := DB.Where("edit_id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &p, nil
}

// LookupProject resolves the id/eid pair carried on an IDE connection URL.
// The public ID takes precedence when both are present.
func LookupProject(publicID, editID string) (*Project, error) {
	switch {
	case publicID != "":
		return GetProjectByPublicID(publicID)
	case editID != "":
		return GetProjectByEditID(editID)
	default:
		return nil, ErrProjectNotFound
	}
}

// PurgeExpiredProjects deletes every project whose TTL has elapsed at now.
func PurgeExpiredProjects(now time.Time) (int64, error) {
	var candidates []Project
	if err := DB.Where("ttl > 0").Find(&candidates).Error; err != nil {
		return 0, fmt.Errorf("list expiring projects: %w", err)
	}

	var expired []string
	for i := range candidates {
		if at, ok := candidates[i].ExpiresAt(); ok && !at.After(now) {
			expired = append(expired, candidates[i].PublicID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	res := DB.Where("public_id IN ?", expired).Delete(&Project{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired projects: %w", res.Error)
	}
	return res.RowsAffected, nil
}

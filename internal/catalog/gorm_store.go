package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type treatmentRecord struct {
	ID              string `gorm:"primaryKey;size:64"`
	Name            string `gorm:"not null"`
	DurationMinutes int    `gorm:"not null"`
	PriceCents      int64  `gorm:"not null"`
	Active          bool   `gorm:"not null"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (treatmentRecord) TableName() string { return "treatments" }

func (r treatmentRecord) toTreatment() Treatment {
	return Treatment{
		ID:              r.ID,
		Name:            r.Name,
		DurationMinutes: r.DurationMinutes,
		PriceCents:      r.PriceCents,
		Active:          r.Active,
	}
}

// OpenGorm opens the catalog database. driver is "postgres" or "sqlite".
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("catalog: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: gorm open: %w", err)
	}
	return db, nil
}

// GormCatalog reads treatments from a relational table through gorm.
type GormCatalog struct {
	db *gorm.DB
}

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	if db == nil {
		panic("catalog: gorm db required")
	}
	return &GormCatalog{db: db}
}

// Migrate creates or updates the treatments table.
func (c *GormCatalog) Migrate(ctx context.Context) error {
	if err := c.db.WithContext(ctx).AutoMigrate(&treatmentRecord{}); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

func (c *GormCatalog) Upsert(ctx context.Context, t Treatment) error {
	if err := t.Validate(); err != nil {
		return err
	}
	rec := treatmentRecord{
		ID:              t.ID,
		Name:            t.Name,
		DurationMinutes: t.DurationMinutes,
		PriceCents:      t.PriceCents,
		Active:          t.Active,
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "duration_minutes", "price_cents", "active", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("catalog: upsert %s: %w", t.ID, err)
	}
	return nil
}

func (c *GormCatalog) ResolveTreatments(ctx context.Context, ids []string) ([]Treatment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []treatmentRecord
	if err := c.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("catalog: resolve treatments: %w", err)
	}
	found := make(map[string]Treatment, len(records))
	for _, r := range records {
		found[r.ID] = r.toTreatment()
	}
	return order(ids, found)
}

func (c *GormCatalog) List(ctx context.Context) ([]Treatment, error) {
	var records []treatmentRecord
	if err := c.db.WithContext(ctx).Where("active = ?", true).Order("name ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("catalog: list treatments: %w", err)
	}
	out := make([]Treatment, 0, len(records))
	for _, r := range records {
		out = append(out, r.toTreatment())
	}
	return out, nil
}

var _ Store = (*GormCatalog)(nil)

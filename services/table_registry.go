package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/yeremiapane/table-join/models"
	"gorm.io/gorm"
)

// TableRegistry resolves a table id to its identity. The only change the
// coordinator makes to tables is RemoveTable.
type TableRegistry interface {
	ResolveTable(ctx context.Context, tableID uint) (*models.Table, error)
}

// DBTableRegistry reads the tables table maintained by the table controller.
type DBTableRegistry struct {
	DB *gorm.DB
}

func NewDBTableRegistry(db *gorm.DB) *DBTableRegistry {
	return &DBTableRegistry{DB: db}
}

func (r *DBTableRegistry) ResolveTable(ctx context.Context, tableID uint) (*models.Table, error) {
	var table models.Table
	err := r.DB.WithContext(ctx).First(&table, tableID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve table %d: %w", tableID, err)
	}
	return &table, nil
}

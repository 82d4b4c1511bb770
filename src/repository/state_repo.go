package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/batua/wallet/src/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletState is one persisted store blob, keyed by store name.
type WalletState struct {
	Name      string `gorm:"primaryKey"`
	Value     []byte `gorm:"type:bytea;not null"`
	UpdatedAt time.Time
}

func (WalletState) TableName() string {
	return "wallet_state"
}

type StateRepository struct {
	db *gorm.DB
}

func NewStateRepository(db *gorm.DB) *StateRepository {
	return &StateRepository{db: db}
}

func (r *StateRepository) GetItem(ctx context.Context, name string) ([]byte, error) {
	var row WalletState
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	return row.Value, nil
}

func (r *StateRepository) SetItem(ctx context.Context, name string, value []byte) error {
	row := WalletState{Name: name, Value: value, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

func (r *StateRepository) RemoveItem(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Where("name = ?", name).Delete(&WalletState{}).Error
}

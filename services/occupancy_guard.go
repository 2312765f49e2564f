package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/yeremiapane/table-join/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OccupancyGuard owns the table_occupancies index. Every method takes the
// caller's transaction so a slot change commits or rolls back together with
// the request/session status change it belongs to. The primary key on
// table_id linearises acquisitions of the same table across processes.
type OccupancyGuard struct{}

func NewOccupancyGuard() *OccupancyGuard {
	return &OccupancyGuard{}
}

// TryAcquire claims tableID for owner. It returns false, without error, when
// the table already holds a commitment.
func (g *OccupancyGuard) TryAcquire(tx *gorm.DB, tableID uint, merchantID string, tag models.OccupancyTag, ownerID string, now time.Time) (bool, error) {
	slot := models.TableOccupancy{
		TableID:    tableID,
		MerchantID: merchantID,
		Tag:        tag,
		OwnerID:    ownerID,
		AcquiredAt: now,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&slot)
	if res.Error != nil {
		return false, fmt.Errorf("acquire table %d: %w", tableID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Transfer hands a slot held by fromOwner to toOwner with a new tag. It
// returns false when fromOwner does not hold the slot.
func (g *OccupancyGuard) Transfer(tx *gorm.DB, tableID uint, fromOwner string, tag models.OccupancyTag, toOwner string, now time.Time) (bool, error) {
	res := tx.Model(&models.TableOccupancy{}).
		Where("table_id = ? AND owner_id = ?", tableID, fromOwner).
		Updates(map[string]interface{}{
			"tag":         tag,
			"owner_id":    toOwner,
			"acquired_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("transfer table %d: %w", tableID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release frees tableID if, and only if, ownerID holds it. Releasing a slot
// twice is a no-op.
func (g *OccupancyGuard) Release(tx *gorm.DB, tableID uint, ownerID string) (bool, error) {
	res := tx.Where("table_id = ? AND owner_id = ?", tableID, ownerID).
		Delete(&models.TableOccupancy{})
	if res.Error != nil {
		return false, fmt.Errorf("release table %d: %w", tableID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseOwner frees every slot held by ownerID and returns how many.
func (g *OccupancyGuard) ReleaseOwner(tx *gorm.DB, ownerID string) (int64, error) {
	res := tx.Where("owner_id = ?", ownerID).Delete(&models.TableOccupancy{})
	if res.Error != nil {
		return 0, fmt.Errorf("release owner %s: %w", ownerID, res.Error)
	}
	return res.RowsAffected, nil
}

// Peek returns the current commitment of tableID, or nil when it is free.
func (g *OccupancyGuard) Peek(tx *gorm.DB, tableID uint) (*models.TableOccupancy, error) {
	var slot models.TableOccupancy
	err := tx.Where("table_id = ?", tableID).Take(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek table %d: %w", tableID, err)
	}
	return &slot, nil
}

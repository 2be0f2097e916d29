package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	SequenceVendor        = "vendor"
	SequencePurchaseOrder = "purchase_order"
)

// SequenceCounter holds the last value handed out for one named sequence.
type SequenceCounter struct {
	Name      string    `gorm:"primaryKey;size:64" json:"name"`
	LastValue int64     `gorm:"not null" json:"last_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// nextSequence increments the counter row inside tx. The row is read FOR UPDATE
// so a second database writer blocks until tx commits.
func nextSequence(tx *gorm.DB, name string) (int64, error) {
	var counter SequenceCounter
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("name = ?", name).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = SequenceCounter{Name: name, LastValue: 0}
		if err := tx.Create(&counter).Error; err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}

	next := counter.LastValue + 1
	res := tx.Model(&SequenceCounter{}).
		Where("name = ? AND last_value = ?", name, counter.LastValue).
		Update("last_value", next)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected != 1 {
		return 0, &utils.ConcurrencyError{Resource: name + " sequence"}
	}
	return next, nil
}

// withSequence runs fn in one transaction holding the sequence lock, passing it
// the freshly assigned value.
func withSequence(ctx context.Context, name string, fn func(tx *gorm.DB, seq int64) error) error {
	release, err := utils.ObtainSequenceLock(ctx, name)
	if err != nil {
		return err
	}
	defer release()

	return config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSequence(tx, name)
		if err != nil {
			return err
		}
		return fn(tx, seq)
	})
}

// CurrentSequence returns the last value handed out, 0 if none.
func CurrentSequence(ctx context.Context, name string) (int64, error) {
	var counter SequenceCounter
	err := config.GetDB().WithContext(ctx).Where("name = ?", name).Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.LastValue, nil
}

// RepairSequence moves the counter up to the highest sequence_no stored in the
// owning table. It never moves a counter backwards.
func RepairSequence(ctx context.Context, name string) (int64, error) {
	var model any
	switch name {
	case SequenceVendor:
		model = &Vendor{}
	case SequencePurchaseOrder:
		model = &PurchaseOrder{}
	default:
		return 0, utils.ValidationFailed("name", "unknown sequence "+name)
	}

	release, err := utils.ObtainSequenceLock(ctx, name)
	if err != nil {
		return 0, err
	}
	defer release()

	var result int64
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq *int64
		if err := tx.Model(model).Select("MAX(sequence_no)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		var counter SequenceCounter
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("name = ?", name).Take(&counter).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			counter = SequenceCounter{Name: name}
			if err := tx.Create(&counter).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		result = counter.LastValue
		if maxSeq != nil && *maxSeq > counter.LastValue {
			result = *maxSeq
			return tx.Model(&SequenceCounter{}).Where("name = ?", name).Update("last_value", result).Error
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

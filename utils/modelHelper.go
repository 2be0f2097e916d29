package utils

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"gorm.io/gorm"
)

/* DB fetching */

// fetch model from db
// (returns NotFoundError when the id does not exist)
func FetchModel[T any](ctx context.Context, id int, associations ...string) (*T, error) {
	return FetchModelTx[T](config.GetDB().WithContext(ctx), id, associations...)
}

// same as FetchModel, inside an open transaction
func FetchModelTx[T any](tx *gorm.DB, id int, associations ...string) (*T, error) {
	dbCtx := tx
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: GetTypeName[T](), Key: id}
		}
		return nil, err
	}
	return &result, nil
}

// fetch all models from db, ordered by primary key
func FetchAllModels[T any](ctx context.Context, associations ...string) ([]*T, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var results []*T
	if err := dbCtx.Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/metrics"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Batch is a received lot of one item. Rows are insert-only.
type Batch struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	InventoryItemId     int             `gorm:"index;not null" json:"inventory_item_id"`
	Quantity            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitCost            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	UnitPrice           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	ExpirationDate      *time.Time      `json:"expiration_date"`
	PurchaseOrderItemId *int            `gorm:"index" json:"purchase_order_item_id"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewBatch struct {
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	ExpirationDate *time.Time      `json:"expiration_date"`
}

func validateBatch(quantity decimal.Decimal, unitCost decimal.Decimal, expirationDate *time.Time) error {
	verr := utils.NewValidationError()
	if !quantity.IsPositive() {
		verr.Add("quantity", "must be greater than zero")
	}
	if unitCost.IsNegative() {
		verr.Add("unit_cost", "must not be negative")
	}
	if expirationDate != nil && utils.BeforeToday(*expirationDate) {
		verr.Add("expiration_date", "must not be in the past")
	}
	return verr.OrNil()
}

// WeightedAverageCost is Σ(qty·cost)/Σqty. ok is false when the quantities sum to zero.
func WeightedAverageCost(batches []Batch) (cost decimal.Decimal, quantity decimal.Decimal, ok bool) {
	totalValue := decimal.Zero
	quantity = decimal.Zero
	for _, b := range batches {
		totalValue = totalValue.Add(b.Quantity.Mul(b.UnitCost))
		quantity = quantity.Add(b.Quantity)
	}
	if quantity.IsZero() {
		return decimal.Zero, quantity, false
	}
	return totalValue.DivRound(quantity, 4), quantity, true
}

// recordBatchTx inserts the batch and recomputes the owning item's quantity and
// cost inside tx. The item row is locked first.
func recordBatchTx(tx *gorm.DB, batch *Batch) (*InventoryItem, error) {
	var item InventoryItem
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&item, batch.InventoryItemId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &utils.NotFoundError{Resource: "inventory item", Key: batch.InventoryItemId}
	}
	if err != nil {
		return nil, err
	}
	if batch.UnitPrice.IsZero() {
		batch.UnitPrice = item.UnitPrice
	}
	if err := tx.Create(batch).Error; err != nil {
		return nil, err
	}

	var batches []Batch
	if err := tx.Select("quantity", "unit_cost").Where("inventory_item_id = ?", item.ID).Find(&batches).Error; err != nil {
		return nil, err
	}
	cost, quantity, ok := WeightedAverageCost(batches)
	updates := map[string]interface{}{"quantity": quantity}
	item.Quantity = quantity
	if ok {
		updates["unit_cost"] = cost
		item.UnitCost = cost
	}
	if err := tx.Model(&InventoryItem{}).Where("id = ?", item.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// RecordBatch adds a manual batch and revalues the item in the same transaction.
func RecordBatch(ctx context.Context, itemId int, input *NewBatch) (*Batch, error) {
	if err := validateBatch(input.Quantity, input.UnitCost, input.ExpirationDate); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[InventoryItem](ctx, itemId); err != nil {
		return nil, err
	}

	batch := Batch{
		InventoryItemId: itemId,
		Quantity:        input.Quantity,
		UnitCost:        input.UnitCost,
		ExpirationDate:  input.ExpirationDate,
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := recordBatchTx(tx, &batch)
		if err != nil {
			return err
		}
		return createHistory(tx, ActionTypeCreate, item.ID, "inventory_items", nil, batch, "Recorded batch of "+batch.Quantity.String())
	})
	if err != nil {
		config.LogError(config.GetLogger(), "Batch", "RecordBatch", "record batch", input, err)
		return nil, err
	}
	invalidateItemCache(itemId)
	metrics.BatchesRecorded.Inc()
	return &batch, nil
}

func ListItemBatches(ctx context.Context, itemId int) ([]*Batch, error) {
	if err := utils.ValidateResourceId[InventoryItem](ctx, itemId); err != nil {
		return nil, err
	}
	var results []*Batch
	err := config.GetDB().WithContext(ctx).Where("inventory_item_id = ?", itemId).Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// nearestExpiry maps item id to the earliest batch expiration on record.
func nearestExpiry(ctx context.Context) (map[int]time.Time, error) {
	var batches []Batch
	err := config.GetDB().WithContext(ctx).
		Select("inventory_item_id", "expiration_date").
		Where("expiration_date IS NOT NULL").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	result := make(map[int]time.Time)
	for _, b := range batches {
		current, ok := result[b.InventoryItemId]
		if !ok || b.ExpirationDate.Before(current) {
			result[b.InventoryItemId] = *b.ExpirationDate
		}
	}
	return result, nil
}

// Revaluation is the drift between an item's stored quantity and cost and what
// its batches say.
type Revaluation struct {
	InventoryItemId int             `json:"inventory_item_id"`
	Name            string          `json:"name"`
	StoredQuantity  decimal.Decimal `json:"stored_quantity"`
	BatchQuantity   decimal.Decimal `json:"batch_quantity"`
	StoredUnitCost  decimal.Decimal `json:"stored_unit_cost"`
	BatchUnitCost   decimal.Decimal `json:"batch_unit_cost"`
}

// RevalueInventory recomputes quantity and weighted cost from the batches of every
// item that has any. Only drifted items are returned; with apply set they are
// also rewritten, each in its own transaction.
func RevalueInventory(ctx context.Context, apply bool) ([]Revaluation, error) {
	var batches []Batch
	if err := config.GetDB().WithContext(ctx).Select("inventory_item_id", "quantity", "unit_cost").Find(&batches).Error; err != nil {
		return nil, err
	}
	byItem := make(map[int][]Batch)
	for _, b := range batches {
		byItem[b.InventoryItemId] = append(byItem[b.InventoryItemId], b)
	}
	items, err := utils.FetchAllModels[InventoryItem](ctx)
	if err != nil {
		return nil, err
	}

	var drifted []Revaluation
	for _, item := range items {
		itemBatches, found := byItem[item.ID]
		if !found {
			continue
		}
		cost, quantity, ok := WeightedAverageCost(itemBatches)
		if !ok {
			cost = item.UnitCost
		}
		if quantity.Equal(item.Quantity) && cost.Equal(item.UnitCost) {
			continue
		}
		drifted = append(drifted, Revaluation{
			InventoryItemId: item.ID,
			Name:            item.Name,
			StoredQuantity:  item.Quantity,
			BatchQuantity:   quantity,
			StoredUnitCost:  item.UnitCost,
			BatchUnitCost:   cost,
		})
		if !apply {
			continue
		}
		err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&InventoryItem{}).Where("id = ?", item.ID).
				Updates(map[string]interface{}{"quantity": quantity, "unit_cost": cost}).Error; err != nil {
				return err
			}
			return createHistory(tx, ActionTypeUpdate, item.ID, "inventory_items",
				map[string]decimal.Decimal{"quantity": item.Quantity, "unit_cost": item.UnitCost},
				map[string]decimal.Decimal{"quantity": quantity, "unit_cost": cost},
				"Revalued from batches")
		})
		if err != nil {
			config.LogError(config.GetLogger(), "Batch", "RevalueInventory", "rewrite item", item.ID, err)
			return drifted, err
		}
		invalidateItemCache(item.ID)
	}
	return drifted, nil
}

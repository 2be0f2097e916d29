package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VendorItem records that a vendor supplies an item, with the last known terms.
// Both sides are protected from deletion while the link exists.
type VendorItem struct {
	ID                      int             `gorm:"primary_key" json:"id"`
	VendorId                int             `gorm:"not null;uniqueIndex:idx_vendor_item" json:"vendor_id"`
	InventoryItemId         int             `gorm:"not null;uniqueIndex:idx_vendor_item;index" json:"inventory_item_id"`
	Vendor                  *Vendor         `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	InventoryItem           *InventoryItem  `gorm:"constraint:OnDelete:RESTRICT" json:"-"`
	VendorSku               string          `gorm:"size:100" json:"vendor_sku"`
	CostPrice               decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"cost_price"`
	LastPurchaseOrderNumber string          `gorm:"size:20" json:"last_purchase_order_number"`
	LastOrderedAt           *time.Time      `json:"last_ordered_at"`
	LastReceivedAt          *time.Time      `json:"last_received_at"`
	CreatedAt               time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewVendorItem struct {
	VendorId        int             `json:"vendor_id" validate:"required"`
	InventoryItemId int             `json:"inventory_item_id" validate:"required"`
	VendorSku       string          `json:"vendor_sku" validate:"max=100"`
	CostPrice       decimal.Decimal `json:"cost_price"`
}

type vendorItemTouch struct {
	costPrice   decimal.Decimal
	orderNumber string
	orderedAt   *time.Time
	receivedAt  *time.Time
	sku         string
}

func upsertVendorItemTx(tx *gorm.DB, vendorId int, itemId int, touch vendorItemTouch) (*VendorItem, error) {
	var link VendorItem
	err := tx.Where("vendor_id = ? AND inventory_item_id = ?", vendorId, itemId).First(&link).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	link.VendorId = vendorId
	link.InventoryItemId = itemId
	link.CostPrice = touch.costPrice
	if touch.sku != "" {
		link.VendorSku = touch.sku
	}
	if touch.orderNumber != "" {
		link.LastPurchaseOrderNumber = touch.orderNumber
	}
	if touch.orderedAt != nil {
		link.LastOrderedAt = touch.orderedAt
	}
	if touch.receivedAt != nil {
		link.LastReceivedAt = touch.receivedAt
	}
	if err := tx.Omit("Vendor", "InventoryItem").Save(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

func UpsertVendorItem(ctx context.Context, input *NewVendorItem) (*VendorItem, error) {
	if err := utils.ValidateStruct(input).OrNil(); err != nil {
		return nil, err
	}
	if input.CostPrice.IsNegative() {
		return nil, utils.ValidationFailed("cost_price", "must not be negative")
	}
	if err := utils.ValidateResourceId[Vendor](ctx, input.VendorId); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[InventoryItem](ctx, input.InventoryItemId); err != nil {
		return nil, err
	}

	var link *VendorItem
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		link, err = upsertVendorItemTx(tx, input.VendorId, input.InventoryItemId, vendorItemTouch{
			costPrice: input.CostPrice,
			sku:       input.VendorSku,
		})
		return err
	})
	if err != nil {
		config.LogError(config.GetLogger(), "VendorItem", "UpsertVendorItem", "upsert vendor item", input, err)
		return nil, err
	}
	return link, nil
}

func ListVendorItems(ctx context.Context, vendorId int) ([]*VendorItem, error) {
	if err := utils.ValidateResourceId[Vendor](ctx, vendorId); err != nil {
		return nil, err
	}
	var results []*VendorItem
	err := config.GetDB().WithContext(ctx).Where("vendor_id = ?", vendorId).Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// LastUnitCost is the unit cost on the vendor's most recent order line for the
// item. Without such a line it falls back to the vendor link, then to the item's
// current average cost.
func LastUnitCost(ctx context.Context, vendorId int, itemId int) (decimal.Decimal, error) {
	item, err := utils.FetchModel[InventoryItem](ctx, itemId)
	if err != nil {
		return decimal.Zero, err
	}
	db := config.GetDB().WithContext(ctx)

	var line PurchaseOrderItem
	err = db.Joins("JOIN purchase_orders ON purchase_orders.id = purchase_order_items.purchase_order_id").
		Where("purchase_orders.vendor_id = ? AND purchase_order_items.inventory_item_id = ?", vendorId, itemId).
		Where("purchase_orders.status <> ?", PurchaseOrderStatusCancelled).
		Order("purchase_orders.order_date DESC").
		Order("purchase_order_items.id DESC").
		First(&line).Error
	if err == nil {
		return line.UnitCost, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, err
	}

	var link VendorItem
	err = db.Where("vendor_id = ? AND inventory_item_id = ?", vendorId, itemId).First(&link).Error
	if err == nil && link.CostPrice.IsPositive() {
		return link.CostPrice, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, err
	}
	return item.UnitCost, nil
}

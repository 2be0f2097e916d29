package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Sale struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	CustomerId         *int            `gorm:"index" json:"customer_id"`
	SaleDate           time.Time       `gorm:"not null" json:"sale_date"`
	Status             SaleStatus      `gorm:"size:20;not null;index" json:"status"`
	Subtotal           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"subtotal"`
	DiscountPercentage decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"discount_percentage"`
	TaxPercentage      decimal.Decimal `gorm:"type:decimal(7,4);not null" json:"tax_percentage"`
	// supplied by the caller, never derived from the lines
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	Items       []SaleItem      `gorm:"foreignKey:SaleId;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type SaleItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	SaleId          int             `gorm:"index;not null" json:"sale_id"`
	InventoryItemId int             `gorm:"index;not null" json:"inventory_item_id"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
}

type NewSale struct {
	CustomerId         *int            `json:"customer_id"`
	SaleDate           *time.Time      `json:"sale_date"`
	Status             SaleStatus      `json:"status"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	TaxPercentage      decimal.Decimal `json:"tax_percentage"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Items              []NewSaleItem   `json:"items"`
}

// NewSaleItem snapshots the item's current unit price when UnitPrice is nil.
type NewSaleItem struct {
	InventoryItemId int              `json:"inventory_item_id"`
	Quantity        decimal.Decimal  `json:"quantity"`
	UnitPrice       *decimal.Decimal `json:"unit_price"`
}

var hundred = decimal.NewFromInt(100)

func (input *NewSale) validate(ctx context.Context) error {
	verr := utils.NewValidationError()
	if input.Status == "" {
		input.Status = SaleStatusDraft
	}
	if !input.Status.IsValid() {
		verr.Add("status", "must be draft, completed or refunded")
	}
	if input.Subtotal.IsNegative() {
		verr.Add("subtotal", "must not be negative")
	}
	if input.TotalAmount.IsNegative() {
		verr.Add("total_amount", "must not be negative")
	}
	if input.DiscountPercentage.IsNegative() || input.DiscountPercentage.GreaterThan(hundred) {
		verr.Add("discount_percentage", "must be between 0 and 100")
	}
	if input.TaxPercentage.IsNegative() || input.TaxPercentage.GreaterThan(hundred) {
		verr.Add("tax_percentage", "must be between 0 and 100")
	}
	itemIds := make([]int, 0, len(input.Items))
	for i, item := range input.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		if item.InventoryItemId <= 0 {
			verr.Add(prefix+"inventory_item_id", "is required")
		}
		if !item.Quantity.IsPositive() {
			verr.Add(prefix+"quantity", "must be greater than zero")
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			verr.Add(prefix+"unit_price", "must not be negative")
		}
		itemIds = append(itemIds, item.InventoryItemId)
	}
	if verr.HasErrors() {
		return verr
	}
	if input.CustomerId != nil {
		if err := utils.ValidateResourceId[Customer](ctx, *input.CustomerId); err != nil {
			return err
		}
	}
	return utils.ValidateResourcesId[InventoryItem](ctx, itemIds)
}

func CreateSale(ctx context.Context, input *NewSale) (*Sale, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	sale := Sale{
		CustomerId:         input.CustomerId,
		SaleDate:           time.Now(),
		Status:             input.Status,
		Subtotal:           input.Subtotal,
		DiscountPercentage: input.DiscountPercentage,
		TaxPercentage:      input.TaxPercentage,
		TotalAmount:        input.TotalAmount,
	}
	if input.SaleDate != nil {
		sale.SaleDate = *input.SaleDate
	}

	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range input.Items {
			unitPrice := item.UnitPrice
			if unitPrice == nil {
				product, err := utils.FetchModelTx[InventoryItem](tx, item.InventoryItemId)
				if err != nil {
					return err
				}
				unitPrice = &product.UnitPrice
			}
			sale.Items = append(sale.Items, SaleItem{
				InventoryItemId: item.InventoryItemId,
				Quantity:        item.Quantity,
				UnitPrice:       *unitPrice,
			})
		}
		if err := tx.Create(&sale).Error; err != nil {
			return err
		}
		return createHistory(tx, ActionTypeCreate, sale.ID, "sales", nil, sale, fmt.Sprintf("Recorded sale #%d", sale.ID))
	})
	if err != nil {
		config.LogError(config.GetLogger(), "Sale", "CreateSale", "create sale", input.CustomerId, err)
		return nil, err
	}
	return &sale, nil
}

func GetSale(ctx context.Context, id int) (*Sale, error) {
	return utils.FetchModel[Sale](ctx, id, "Items")
}

type SaleFilter struct {
	Status     SaleStatus `form:"status"`
	CustomerId int        `form:"customer_id"`
}

func ListSales(ctx context.Context, filter SaleFilter) ([]*Sale, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", filter.Status)
	}
	if filter.CustomerId > 0 {
		dbCtx = dbCtx.Where("customer_id = ?", filter.CustomerId)
	}
	var results []*Sale
	if err := dbCtx.Preload("Items").Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

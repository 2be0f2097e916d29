package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultMinStockLevel = 1
	DefaultMaxStockLevel = 100
	DefaultItemCategory  = "SYSTEM"
)

type InventoryItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	Name            string          `gorm:"size:255;not null;index" json:"name"`
	Barcode         *string         `gorm:"size:100;uniqueIndex" json:"barcode"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	MinStockLevel   int             `gorm:"not null" json:"min_stock_level"`
	MaxStockLevel   int             `gorm:"not null" json:"max_stock_level"`
	Category        string          `gorm:"size:100;not null" json:"category"`
	MeasurementType MeasurementType `gorm:"size:20;not null" json:"measurement_type"`
	Status          ItemStatus      `gorm:"size:20;not null;index" json:"status"`
	HasIssues       bool            `gorm:"not null;index" json:"has_issues"`
	IssueReasons    string          `gorm:"type:text" json:"issue_reasons"`
	Batches         []Batch         `gorm:"foreignKey:InventoryItemId;constraint:OnDelete:CASCADE" json:"batches,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewInventoryItem carries the fields of an upsert. Nil fields keep the stored
// value on update and take the default on create.
type NewInventoryItem struct {
	Name            string           `json:"name"`
	Barcode         string           `json:"barcode"`
	UnitPrice       *decimal.Decimal `json:"unit_price"`
	UnitCost        *decimal.Decimal `json:"unit_cost"`
	Quantity        *decimal.Decimal `json:"quantity"`
	MinStockLevel   *int             `json:"min_stock_level"`
	MaxStockLevel   *int             `json:"max_stock_level"`
	Category        string           `json:"category"`
	MeasurementType string           `json:"measurement_type"`
	Status          string           `json:"status"`
}

// StockLevelIssues lists what is wrong with a pair of thresholds; empty means fine.
func StockLevelIssues(minLevel, maxLevel int) []string {
	var reasons []string
	if minLevel < 0 {
		reasons = append(reasons, "minimum stock level is negative")
	}
	if maxLevel < 0 {
		reasons = append(reasons, "maximum stock level is negative")
	}
	if minLevel > maxLevel {
		reasons = append(reasons, "minimum stock level exceeds maximum stock level")
	}
	return reasons
}

// normalize uppercases text fields and recomputes the issue flag.
func (item *InventoryItem) normalize() {
	item.Name = strings.ToUpper(strings.TrimSpace(item.Name))
	item.Category = strings.ToUpper(strings.TrimSpace(item.Category))
	if item.Category == "" {
		item.Category = DefaultItemCategory
	}
	item.Status = ItemStatus(strings.ToUpper(strings.TrimSpace(string(item.Status))))
	if item.Barcode != nil && strings.TrimSpace(*item.Barcode) == "" {
		item.Barcode = nil
	}
	reasons := StockLevelIssues(item.MinStockLevel, item.MaxStockLevel)
	item.HasIssues = len(reasons) > 0
	item.IssueReasons = strings.Join(reasons, "; ")
}

func (item *InventoryItem) IssueList() []string {
	if item.IssueReasons == "" {
		return nil
	}
	return strings.Split(item.IssueReasons, "; ")
}

func (input *NewInventoryItem) validate(key ItemKey) error {
	verr := utils.NewValidationError()
	switch key {
	case ItemKeyBarcode:
		if strings.TrimSpace(input.Barcode) == "" {
			verr.Add("barcode", "is required when matching by barcode")
		}
	case ItemKeyName:
		if strings.TrimSpace(input.Name) == "" {
			verr.Add("name", "is required when matching by name")
		}
	default:
		verr.Add("key", "must be barcode or name")
	}
	if input.UnitPrice != nil && input.UnitPrice.IsNegative() {
		verr.Add("unit_price", "must not be negative")
	}
	if input.UnitCost != nil && input.UnitCost.IsNegative() {
		verr.Add("unit_cost", "must not be negative")
	}
	if input.Quantity != nil && input.Quantity.IsNegative() {
		verr.Add("quantity", "must not be negative")
	}
	if input.MeasurementType != "" {
		if _, err := ParseMeasurementType(input.MeasurementType); err != nil {
			verr.Add("measurement_type", "must be count or weight")
		}
	}
	if input.Status != "" {
		if _, err := ParseItemStatus(input.Status); err != nil {
			verr.Add("status", "must be ACTIVE or INACTIVE")
		}
	}
	return verr.OrNil()
}

// apply copies the set fields of input onto item.
func (input *NewInventoryItem) apply(item *InventoryItem) {
	if strings.TrimSpace(input.Name) != "" {
		item.Name = input.Name
	}
	if strings.TrimSpace(input.Barcode) != "" {
		barcode := strings.TrimSpace(input.Barcode)
		item.Barcode = &barcode
	}
	if input.UnitPrice != nil {
		item.UnitPrice = *input.UnitPrice
	}
	if input.UnitCost != nil {
		item.UnitCost = *input.UnitCost
	}
	if input.Quantity != nil {
		item.Quantity = *input.Quantity
	}
	if input.MinStockLevel != nil {
		item.MinStockLevel = *input.MinStockLevel
	}
	if input.MaxStockLevel != nil {
		item.MaxStockLevel = *input.MaxStockLevel
	}
	if strings.TrimSpace(input.Category) != "" {
		item.Category = input.Category
	}
	if input.MeasurementType != "" {
		item.MeasurementType, _ = ParseMeasurementType(input.MeasurementType)
	}
	if input.Status != "" {
		item.Status, _ = ParseItemStatus(input.Status)
	}
}

func newDefaultItem() InventoryItem {
	return InventoryItem{
		UnitPrice:       decimal.Zero,
		UnitCost:        decimal.Zero,
		Quantity:        decimal.Zero,
		MinStockLevel:   DefaultMinStockLevel,
		MaxStockLevel:   DefaultMaxStockLevel,
		Category:        DefaultItemCategory,
		MeasurementType: MeasurementTypeCount,
		Status:          ItemStatusActive,
	}
}

func findItemByKeyTx(tx *gorm.DB, key ItemKey, input *NewInventoryItem) (*InventoryItem, error) {
	var item InventoryItem
	q := tx.Clauses(clause.Locking{Strength: "UPDATE"})
	switch key {
	case ItemKeyBarcode:
		q = q.Where("barcode = ?", strings.TrimSpace(input.Barcode))
	default:
		q = q.Where("name = ?", strings.ToUpper(strings.TrimSpace(input.Name)))
	}
	err := q.Order("id").First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// checkBarcodeTx rejects a barcode already owned by another item.
func (item *InventoryItem) checkBarcodeTx(tx *gorm.DB) error {
	if item.Barcode == nil {
		return nil
	}
	return utils.ValidateUniqueTx[InventoryItem](tx, "barcode", *item.Barcode, item.ID)
}

// upsertInventoryItemTx returns the stored item and whether it was created.
func upsertInventoryItemTx(tx *gorm.DB, key ItemKey, input *NewInventoryItem) (*InventoryItem, bool, error) {
	existing, err := findItemByKeyTx(tx, key, input)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		item := newDefaultItem()
		input.apply(&item)
		item.normalize()
		if item.Name == "" {
			return nil, false, utils.ValidationFailed("name", "is required")
		}
		if err := item.checkBarcodeTx(tx); err != nil {
			return nil, false, err
		}
		if err := tx.Create(&item).Error; err != nil {
			return nil, false, err
		}
		if err := createHistory(tx, ActionTypeCreate, item.ID, "inventory_items", nil, item, "Created inventory item "+item.Name); err != nil {
			return nil, false, err
		}
		return &item, true, nil
	}

	before := *existing
	input.apply(existing)
	existing.normalize()
	if err := existing.checkBarcodeTx(tx); err != nil {
		return nil, false, err
	}
	if err := tx.Omit(clause.Associations).Save(existing).Error; err != nil {
		return nil, false, err
	}
	if err := createHistory(tx, ActionTypeUpdate, existing.ID, "inventory_items", before, existing, "Updated inventory item "+existing.Name); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// UpsertInventoryItem creates or updates an item matched by barcode or name.
func UpsertInventoryItem(ctx context.Context, key ItemKey, input *NewInventoryItem) (*InventoryItem, error) {
	if err := input.validate(key); err != nil {
		return nil, err
	}

	var item *InventoryItem
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		item, _, txErr = upsertInventoryItemTx(tx, key, input)
		return txErr
	})
	if err != nil {
		config.LogError(config.GetLogger(), "InventoryItem", "UpsertInventoryItem", "upsert item", input, err)
		return nil, err
	}
	invalidateItemCache(item.ID)
	return item, nil
}

func invalidateItemCache(ids ...int) {
	for _, id := range ids {
		if err := utils.RemoveRedisItem[InventoryItem](id); err != nil {
			config.LogError(config.GetLogger(), "InventoryItem", "invalidateItemCache", "remove cached item", id, err)
		}
	}
}

func GetInventoryItem(ctx context.Context, id int) (*InventoryItem, error) {
	cached, err := utils.RetrieveRedis[InventoryItem](id)
	if err != nil {
		config.LogError(config.GetLogger(), "InventoryItem", "GetInventoryItem", "read cached item", id, err)
	}
	if cached != nil {
		return cached, nil
	}

	item, err := utils.FetchModel[InventoryItem](ctx, id)
	if err != nil {
		return nil, err
	}
	if err := utils.StoreRedis(item, item.ID); err != nil {
		config.LogError(config.GetLogger(), "InventoryItem", "GetInventoryItem", "cache item", id, err)
	}
	return item, nil
}

type InventoryItemFilter struct {
	Status    ItemStatus `form:"status"`
	Category  string     `form:"category"`
	HasIssues *bool      `form:"has_issues"`
}

func ListInventoryItems(ctx context.Context, filter InventoryItemFilter) ([]*InventoryItem, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if filter.Status != "" {
		dbCtx = dbCtx.Where("status = ?", strings.ToUpper(string(filter.Status)))
	}
	if filter.Category != "" {
		dbCtx = dbCtx.Where("category = ?", strings.ToUpper(filter.Category))
	}
	if filter.HasIssues != nil {
		dbCtx = dbCtx.Where("has_issues = ?", *filter.HasIssues)
	}
	var results []*InventoryItem
	if err := dbCtx.Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// SearchInventoryItems matches a case-insensitive substring of name or barcode.
func SearchInventoryItems(ctx context.Context, query string) ([]*InventoryItem, error) {
	pattern := utils.LikePattern(query)
	var results []*InventoryItem
	err := config.GetDB().WithContext(ctx).
		Where("LOWER(name) LIKE ? ESCAPE '!' OR LOWER(barcode) LIKE ? ESCAPE '!'", pattern, pattern).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ListLowStockItems returns active items whose quantity is below their minimum level.
func ListLowStockItems(ctx context.Context) ([]*InventoryItem, error) {
	items, err := ListInventoryItems(ctx, InventoryItemFilter{Status: ItemStatusActive})
	if err != nil {
		return nil, err
	}
	var results []*InventoryItem
	for _, item := range items {
		if item.Quantity.LessThan(decimal.NewFromInt(int64(item.MinStockLevel))) {
			results = append(results, item)
		}
	}
	return results, nil
}

func ListItemsWithIssues(ctx context.Context) ([]*InventoryItem, error) {
	hasIssues := true
	return ListInventoryItems(ctx, InventoryItemFilter{HasIssues: &hasIssues})
}

func setItemStatus(ctx context.Context, id int, status ItemStatus) (*InventoryItem, error) {
	var item *InventoryItem
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		item, err = utils.FetchModelTx[InventoryItem](tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
		if err != nil {
			return err
		}
		if item.Status == status {
			return nil
		}
		before := item.Status
		if err := tx.Model(item).Update("status", status).Error; err != nil {
			return err
		}
		item.Status = status
		return createHistory(tx, ActionTypeUpdate, item.ID, "inventory_items", before, status, "Changed item status to "+string(status))
	})
	if err != nil {
		return nil, err
	}
	invalidateItemCache(id)
	return item, nil
}

// DeactivateInventoryItem is a no-op for an item that is already inactive.
func DeactivateInventoryItem(ctx context.Context, id int) (*InventoryItem, error) {
	return setItemStatus(ctx, id, ItemStatusInactive)
}

// ActivateInventoryItem is a no-op unless the item is inactive.
func ActivateInventoryItem(ctx context.Context, id int) (*InventoryItem, error) {
	return setItemStatus(ctx, id, ItemStatusActive)
}

// DeleteInventoryItem removes an item with its batches. Items linked to a vendor
// or used on a purchase order line are protected.
func DeleteInventoryItem(ctx context.Context, id int) (*InventoryItem, error) {
	item, err := utils.FetchModel[InventoryItem](ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := utils.ResourceCountWhere[VendorItem](ctx, "inventory_item_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &utils.InvalidStateError{Resource: "inventory item", State: "linked to vendors", Action: "delete"}
	}
	count, err = utils.ResourceCountWhere[PurchaseOrderItem](ctx, "inventory_item_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &utils.InvalidStateError{Resource: "inventory item", State: "used on purchase orders", Action: "delete"}
	}

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("inventory_item_id = ?", id).Delete(&Batch{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(item).Error; err != nil {
			return err
		}
		return createHistory(tx, ActionTypeDelete, item.ID, "inventory_items", item, nil, "Deleted inventory item "+item.Name)
	})
	if err != nil {
		config.LogError(config.GetLogger(), "InventoryItem", "DeleteInventoryItem", "delete item", id, err)
		return nil, err
	}
	invalidateItemCache(id)
	return item, nil
}

package models

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/metrics"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PurchaseOrder struct {
	ID            int                 `gorm:"primary_key" json:"id"`
	OrderNumber   string              `gorm:"size:20;not null;uniqueIndex" json:"po_id"`
	SequenceNo    int64               `gorm:"not null;uniqueIndex" json:"sequence_no"`
	VendorId      int                 `gorm:"index;not null" json:"vendor_id"`
	Vendor        *Vendor             `gorm:"constraint:OnDelete:RESTRICT" json:"vendor,omitempty"`
	Status        PurchaseOrderStatus `gorm:"size:20;not null;index" json:"status"`
	OrderDate     time.Time           `gorm:"not null" json:"order_date"`
	ExpectedDate  *time.Time          `json:"expected_date"`
	ReceivedDate  *time.Time          `json:"received_date"`
	PaymentTerms  PaymentTerms        `gorm:"size:20;not null" json:"payment_terms"`
	PaymentMethod PaymentMethod       `gorm:"size:20;not null" json:"payment_method"`
	Notes         string              `gorm:"type:text" json:"notes"`
	// sum(qty * unit_cost) of the lines
	TotalCost decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_cost"`
	// sum(qty) of the lines
	ItemsCount decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"items_count"`
	Items      []PurchaseOrderItem `gorm:"foreignKey:PurchaseOrderId;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt  time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderItem struct {
	ID                     int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId        int             `gorm:"index;not null" json:"purchase_order_id"`
	InventoryItemId        int             `gorm:"index;not null" json:"inventory_item_id"`
	Description            string          `gorm:"size:255" json:"description"`
	Quantity               decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitCost               decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	ExpectedExpirationDate *time.Time      `json:"expected_expiration_date"`
}

type NewPurchaseOrder struct {
	VendorId      int                    `json:"vendor_id"`
	Status        PurchaseOrderStatus    `json:"status"`
	OrderDate     *time.Time             `json:"order_date"`
	ExpectedDate  *time.Time             `json:"expected_date"`
	PaymentTerms  PaymentTerms           `json:"payment_terms"`
	PaymentMethod PaymentMethod          `json:"payment_method"`
	Notes         string                 `json:"notes"`
	Items         []NewPurchaseOrderItem `json:"items"`
}

// NewPurchaseOrderItem is one requested line. A nil unit cost takes the vendor's
// last price for the item.
type NewPurchaseOrderItem struct {
	InventoryItemId        int              `json:"inventory_item_id"`
	Description            string           `json:"description"`
	Quantity               decimal.Decimal  `json:"quantity"`
	UnitCost               *decimal.Decimal `json:"unit_cost"`
	ExpectedExpirationDate *time.Time       `json:"expected_expiration_date"`
}

type UpdatePurchaseOrderInput struct {
	OrderDate     *time.Time    `json:"order_date"`
	ExpectedDate  *time.Time    `json:"expected_date"`
	PaymentTerms  PaymentTerms  `json:"payment_terms"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Notes         *string       `json:"notes"`
}

type PurchaseOrderFilter struct {
	Status   PurchaseOrderStatus `form:"status"`
	VendorId int                 `form:"vendor_id"`
	Query    string              `form:"q"`
}

func (line PurchaseOrderItem) LineTotal() decimal.Decimal {
	return line.Quantity.Mul(line.UnitCost)
}

// RecalculateTotals derives total cost and item count from the loaded lines.
func (po *PurchaseOrder) RecalculateTotals() {
	totalCost := decimal.Zero
	itemsCount := decimal.Zero
	for _, line := range po.Items {
		totalCost = totalCost.Add(line.LineTotal())
		itemsCount = itemsCount.Add(line.Quantity)
	}
	po.TotalCost = totalCost
	po.ItemsCount = itemsCount
}

func FormatPurchaseOrderNumber(seq int64) string {
	return fmt.Sprintf("PO-%04d", seq)
}

func validateOrderDates(verr *utils.ValidationError, orderDate time.Time, expectedDate *time.Time) {
	if expectedDate != nil && utils.StartOfDay(*expectedDate).Before(utils.StartOfDay(orderDate)) {
		verr.Add("expected_date", "must not be before the order date")
	}
}

func (line *NewPurchaseOrderItem) validate(verr *utils.ValidationError, prefix string) {
	if line.InventoryItemId <= 0 {
		verr.Add(prefix+"inventory_item_id", "is required")
	}
	if !line.Quantity.IsPositive() {
		verr.Add(prefix+"quantity", "must be greater than zero")
	}
	if line.UnitCost != nil && line.UnitCost.IsNegative() {
		verr.Add(prefix+"unit_cost", "must not be negative")
	}
	if len(line.Description) > 255 {
		verr.Add(prefix+"description", "is too long")
	}
}

// resolveLineCost fills a missing unit cost. It reads outside any transaction.
func (line *NewPurchaseOrderItem) resolveLineCost(ctx context.Context, vendorId int) (decimal.Decimal, error) {
	if line.UnitCost != nil {
		return *line.UnitCost, nil
	}
	return LastUnitCost(ctx, vendorId, line.InventoryItemId)
}

func (input *NewPurchaseOrder) validate(ctx context.Context) (*Vendor, error) {
	verr := utils.NewValidationError()
	if input.Status == "" {
		input.Status = PurchaseOrderStatusDraft
	}
	status, err := ParsePurchaseOrderStatus(string(input.Status))
	if err != nil || !status.isInitial() {
		verr.Add("status", "must be DRAFT, APPROVED or SUBMITTED")
	} else {
		input.Status = status
	}
	if input.OrderDate == nil {
		today := utils.Today()
		input.OrderDate = &today
	}
	validateOrderDates(verr, *input.OrderDate, input.ExpectedDate)
	if input.VendorId <= 0 {
		verr.Add("vendor_id", "is required")
	}
	if input.PaymentTerms != "" && !input.PaymentTerms.IsValid() {
		verr.Add("payment_terms", "is not an allowed value")
	}
	if input.PaymentMethod != "" && !input.PaymentMethod.IsValid() {
		verr.Add("payment_method", "is not an allowed value")
	}
	itemIds := make([]int, 0, len(input.Items))
	for i := range input.Items {
		input.Items[i].validate(verr, fmt.Sprintf("items[%d].", i))
		itemIds = append(itemIds, input.Items[i].InventoryItemId)
	}
	if verr.HasErrors() {
		return nil, verr
	}

	vendor, err := utils.FetchModel[Vendor](ctx, input.VendorId)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateResourcesId[InventoryItem](ctx, itemIds); err != nil {
		return nil, err
	}
	return vendor, nil
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {
	vendor, err := input.validate(ctx)
	if err != nil {
		return nil, err
	}

	var lines []PurchaseOrderItem
	for _, item := range input.Items {
		unitCost, err := item.resolveLineCost(ctx, vendor.ID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, PurchaseOrderItem{
			InventoryItemId:        item.InventoryItemId,
			Description:            item.Description,
			Quantity:               item.Quantity,
			UnitCost:               unitCost,
			ExpectedExpirationDate: item.ExpectedExpirationDate,
		})
	}

	purchaseOrder := PurchaseOrder{
		VendorId:      vendor.ID,
		Status:        input.Status,
		OrderDate:     *input.OrderDate,
		ExpectedDate:  input.ExpectedDate,
		PaymentTerms:  input.PaymentTerms,
		PaymentMethod: input.PaymentMethod,
		Notes:         input.Notes,
		Items:         lines,
	}
	if purchaseOrder.PaymentTerms == "" {
		purchaseOrder.PaymentTerms = vendor.PaymentTerms
	}
	if purchaseOrder.PaymentMethod == "" {
		purchaseOrder.PaymentMethod = vendor.PaymentMethod
	}
	purchaseOrder.RecalculateTotals()

	err = withSequence(ctx, SequencePurchaseOrder, func(tx *gorm.DB, seq int64) error {
		purchaseOrder.SequenceNo = seq
		purchaseOrder.OrderNumber = FormatPurchaseOrderNumber(seq)
		if err := tx.Omit("Vendor").Create(&purchaseOrder).Error; err != nil {
			return err
		}
		return createHistory(tx, ActionTypeCreate, purchaseOrder.ID, "purchase_orders", nil, purchaseOrder,
			fmt.Sprintf("Created %s as %s with total %s", purchaseOrder.OrderNumber, purchaseOrder.Status, purchaseOrder.TotalCost.StringFixed(2)))
	})
	if err != nil {
		config.LogError(config.GetLogger(), "PurchaseOrder", "CreatePurchaseOrder", "create purchase order", input.VendorId, err)
		return nil, err
	}
	metrics.PurchaseOrdersCreated.WithLabelValues(string(purchaseOrder.Status)).Inc()
	return &purchaseOrder, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	return utils.FetchModel[PurchaseOrder](ctx, id, "Items", "Vendor")
}

// lockOrderTx reads the order FOR UPDATE with its lines.
func lockOrderTx(tx *gorm.DB, id int) (*PurchaseOrder, error) {
	var po PurchaseOrder
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&po, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &utils.NotFoundError{Resource: "purchase order", Key: id}
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Where("purchase_order_id = ?", id).Order("id").Find(&po.Items).Error; err != nil {
		return nil, err
	}
	return &po, nil
}

// saveTotalsTx recomputes totals from po.Items and writes them.
func saveTotalsTx(tx *gorm.DB, po *PurchaseOrder) error {
	po.RecalculateTotals()
	return tx.Model(&PurchaseOrder{}).Where("id = ?", po.ID).Updates(map[string]interface{}{
		"total_cost":  po.TotalCost,
		"items_count": po.ItemsCount,
	}).Error
}

// RecalculateTotals reloads an order's lines and stores the derived totals.
func RecalculateTotals(ctx context.Context, orderId int) (*PurchaseOrder, error) {
	var po *PurchaseOrder
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		po, err = lockOrderTx(tx, orderId)
		if err != nil {
			return err
		}
		return saveTotalsTx(tx, po)
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

func requireEditable(po *PurchaseOrder, action string) error {
	if !po.Status.IsEditable() {
		return &utils.InvalidStateError{Resource: "purchase order " + po.OrderNumber, State: string(po.Status), Action: action}
	}
	return nil
}

func AddLineItem(ctx context.Context, orderId int, input *NewPurchaseOrderItem) (*PurchaseOrderItem, error) {
	verr := utils.NewValidationError()
	input.validate(verr, "")
	if verr.HasErrors() {
		return nil, verr
	}
	order, err := utils.FetchModel[PurchaseOrder](ctx, orderId)
	if err != nil {
		return nil, err
	}
	if err := requireEditable(order, "add a line to"); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[InventoryItem](ctx, input.InventoryItemId); err != nil {
		return nil, err
	}
	unitCost, err := input.resolveLineCost(ctx, order.VendorId)
	if err != nil {
		return nil, err
	}

	line := PurchaseOrderItem{
		PurchaseOrderId:        orderId,
		InventoryItemId:        input.InventoryItemId,
		Description:            input.Description,
		Quantity:               input.Quantity,
		UnitCost:               unitCost,
		ExpectedExpirationDate: input.ExpectedExpirationDate,
	}
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		po, err := lockOrderTx(tx, orderId)
		if err != nil {
			return err
		}
		// status may have moved since the read above
		if err := requireEditable(po, "add a line to"); err != nil {
			return err
		}
		if err := tx.Create(&line).Error; err != nil {
			return err
		}
		po.Items = append(po.Items, line)
		if err := saveTotalsTx(tx, po); err != nil {
			return err
		}
		return createHistory(tx, ActionTypeUpdate, po.ID, "purchase_orders", nil, line, "Added line to "+po.OrderNumber)
	})
	if err != nil {
		config.LogError(config.GetLogger(), "PurchaseOrder", "AddLineItem", "add line", orderId, err)
		return nil, err
	}
	return &line, nil
}

func UpdateLineItem(ctx context.Context, lineId int, input *NewPurchaseOrderItem) (*PurchaseOrderItem, error) {
	verr := utils.NewValidationError()
	input.validate(verr, "")
	if verr.HasErrors() {
		return nil, verr
	}
	line, err := utils.FetchModel[PurchaseOrderItem](ctx, lineId)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[InventoryItem](ctx, input.InventoryItemId); err != nil {
		return nil, err
	}
	order, err := utils.FetchModel[PurchaseOrder](ctx, line.PurchaseOrderId)
	if err != nil {
		return nil, err
	}
	unitCost, err := input.resolveLineCost(ctx, order.VendorId)
	if err != nil {
		return nil, err
	}

	before := *line
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		po, err := lockOrderTx(tx, line.PurchaseOrderId)
		if err != nil {
			return err
		}
		if err := requireEditable(po, "change a line of"); err != nil {
			return err
		}
		line.InventoryItemId = input.InventoryItemId
		line.Description = input.Description
		line.Quantity = input.Quantity
		line.UnitCost = unitCost
		line.ExpectedExpirationDate = input.ExpectedExpirationDate
		if err := tx.Save(line).Error; err != nil {
			return err
		}
		for i := range po.Items {
			if po.Items[i].ID == line.ID {
				po.Items[i] = *line
			}
		}
		if err := saveTotalsTx(tx, po); err != nil {
			return err
		}
		return createHistory(tx, ActionTypeUpdate, po.ID, "purchase_orders", before, line, "Changed line on "+po.OrderNumber)
	})
	if err != nil {
		config.LogError(config.GetLogger(), "PurchaseOrder", "UpdateLineItem", "update line", lineId, err)
		return nil, err
	}
	return line, nil
}

func RemoveLineItem(ctx context.Context, lineId int) (*PurchaseOrderItem, error) {
	line, err := utils.FetchModel[PurchaseOrderItem](ctx, lineId)
	if err != nil {
		return nil, err
	}

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		po, err := lockOrderTx(tx, line.PurchaseOrderId)
		if err != nil {
			return err
		}
		if err := requireEditable(po, "remove a line from"); err != nil {
			return err
		}
		if err := tx.Delete(line).Error; err != nil {
			return err
		}
		remaining := po.Items[:0]
		for _, l := range po.Items {
			if l.ID != line.ID {
				remaining = append(remaining, l)
			}
		}
		po.Items = remaining
		if err := saveTotalsTx(tx, po); err != nil {
			return err
		}
		return createHistory(tx, ActionTypeUpdate, po.ID, "purchase_orders", line, nil, "Removed line from "+po.OrderNumber)
	})
	if err != nil {
		config.LogError(config.GetLogger(), "PurchaseOrder", "RemoveLineItem", "remove line", lineId, err)
		return nil, err
	}
	return line, nil
}

// UpdatePurchaseOrder edits header fields of an open order and re-derives its totals.
func UpdatePurchaseOrder(ctx context.Context, id int, input *UpdatePurchaseOrderInput) (*PurchaseOrder, error) {
	var po *PurchaseOrder
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		po, err = lockOrderTx(tx, id)
		if err != nil {
			return err
		}
		if po.Status == PurchaseOrderStatusReceived || po.Status.IsTerminal() {
			return &utils.InvalidStateError{Resource: "purchase order " + po.OrderNumber, State: string(po.Status), Action: "update"}
		}
		before := *po

		if input.OrderDate != nil {
			po.OrderDate = *input.OrderDate
		}
		if input.ExpectedDate != nil {
			po.ExpectedDate = input.ExpectedDate
		}
		if input.Notes != nil {
			po.Notes = *input.Notes
		}
		verr := utils.NewValidationError()
		validateOrderDates(verr, po.OrderDate, po.ExpectedDate)
		if input.PaymentTerms != "" {
			if !input.PaymentTerms.IsValid() {
				verr.Add("payment_terms", "is not an allowed value")
			}
			po.PaymentTerms = input.PaymentTerms
		}
		if input.PaymentMethod != "" {
			if !input.PaymentMethod.IsValid() {
				verr.Add("payment_method", "is not an allowed value")
			}
			po.PaymentMethod = input.PaymentMethod
		}
		if verr.HasErrors() {
			return verr
		}

		po.RecalculateTotals()
		if err := tx.Omit(clause.Associations).Save(po).Error; err != nil {
			return err
		}
		return createHistory(tx, ActionTypeUpdate, po.ID, "purchase_orders", before, po, "Updated "+po.OrderNumber)
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

// TransitionPurchaseOrder moves an order along one legal edge. RECEIVED is
// reached only by receiving the order.
func TransitionPurchaseOrder(ctx context.Context, id int, to PurchaseOrderStatus) (*PurchaseOrder, error) {
	target, err := ParsePurchaseOrderStatus(string(to))
	if err != nil {
		return nil, utils.ValidationFailed("status", err.Error())
	}

	var po *PurchaseOrder
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		po, err = lockOrderTx(tx, id)
		if err != nil {
			return err
		}
		if target == PurchaseOrderStatusReceived || !CanTransition(po.Status, target) {
			return &utils.InvalidStateError{Resource: "purchase order " + po.OrderNumber, State: string(po.Status), Action: "move to " + string(target)}
		}
		from := po.Status
		if err := tx.Model(&PurchaseOrder{}).Where("id = ?", po.ID).Update("status", target).Error; err != nil {
			return err
		}
		po.Status = target
		return createHistory(tx, ActionTypeTransition, po.ID, "purchase_orders", from, target,
			fmt.Sprintf("%s moved from %s to %s", po.OrderNumber, from, target))
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

// DeletePurchaseOrder removes lines then the order. RECEIVED orders are refused.
func DeletePurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	var po *PurchaseOrder
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		po, err = lockOrderTx(tx, id)
		if err != nil {
			return err
		}
		if po.Status == PurchaseOrderStatusReceived {
			return &utils.InvalidStateError{Resource: "purchase order " + po.OrderNumber, State: string(po.Status), Action: "delete"}
		}
		if err := tx.Where("purchase_order_id = ?", id).Delete(&PurchaseOrderItem{}).Error; err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Delete(po).Error; err != nil {
			return err
		}
		return createHistory(tx, ActionTypeDelete, po.ID, "purchase_orders", po, nil, "Deleted "+po.OrderNumber)
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

func ListPurchaseOrders(ctx context.Context, filter PurchaseOrderFilter) ([]*PurchaseOrder, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if filter.Status != "" {
		status, err := ParsePurchaseOrderStatus(string(filter.Status))
		if err != nil {
			return nil, utils.ValidationFailed("status", err.Error())
		}
		dbCtx = dbCtx.Where("status = ?", status)
	}
	if filter.VendorId > 0 {
		dbCtx = dbCtx.Where("vendor_id = ?", filter.VendorId)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		dbCtx = dbCtx.Where("LOWER(order_number) LIKE ? ESCAPE '!'", utils.LikePattern(q))
	}
	var results []*PurchaseOrder
	if err := dbCtx.Preload("Items").Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

var orderNumberPattern = regexp.MustCompile(`(?i)^(?:po-?)?0*(\d+)$`)

// ParsePurchaseOrderNumber accepts PO-0094, po-0094, 0094 or 94.
func ParsePurchaseOrderNumber(s string) (int64, bool) {
	m := orderNumberPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func FindPurchaseOrderByNumber(ctx context.Context, number string) (*PurchaseOrder, error) {
	seq, ok := ParsePurchaseOrderNumber(number)
	if !ok {
		return nil, utils.ValidationFailed("po_id", "is not a purchase order number")
	}
	var po PurchaseOrder
	err := config.GetDB().WithContext(ctx).Preload("Items").Where("sequence_no = ?", seq).First(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &utils.NotFoundError{Resource: "purchase order", Key: FormatPurchaseOrderNumber(seq)}
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

// ListOverduePurchaseOrders returns submitted orders whose expected date has passed.
func ListOverduePurchaseOrders(ctx context.Context) ([]*PurchaseOrder, error) {
	var results []*PurchaseOrder
	err := config.GetDB().WithContext(ctx).
		Where("status = ? AND expected_date IS NOT NULL AND expected_date < ?", PurchaseOrderStatusSubmitted, utils.Today()).
		Order("expected_date").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

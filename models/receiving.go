package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/metrics"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReceivingLog is the append-only record of what arrived for one order line.
type ReceivingLog struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId     int             `gorm:"index;not null" json:"purchase_order_id"`
	PurchaseOrderItemId int             `gorm:"index;not null" json:"purchase_order_item_id"`
	InventoryItemId     int             `gorm:"index;not null" json:"inventory_item_id"`
	OrderedQuantity     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"ordered_quantity"`
	ReceivedQuantity    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"received_quantity"`
	ExpirationDate      *time.Time      `json:"expiration_date"`
	IsAccepted          bool            `gorm:"not null" json:"is_accepted"`
	RejectionReason     RejectionReason `gorm:"size:20;not null" json:"rejection_reason"`
	BatchId             *int            `json:"batch_id"`
	ReceivedBy          string          `gorm:"size:100" json:"received_by"`
	ReceivedAt          time.Time       `gorm:"not null" json:"received_at"`
}

// ReceivingDecision is what the receiver decided for one line.
type ReceivingDecision struct {
	PurchaseOrderItemId int             `json:"purchase_order_item_id"`
	ReceivedQuantity    decimal.Decimal `json:"received_quantity"`
	ExpirationDate      *time.Time      `json:"expiration_date"`
	IsAccepted          bool            `json:"is_accepted"`
	RejectionReason     RejectionReason `json:"rejection_reason"`
}

type NewReceiving struct {
	ReceivedDate *time.Time          `json:"received_date"`
	Lines        []ReceivingDecision `json:"lines"`
}

type ReceivingResult struct {
	PurchaseOrder *PurchaseOrder `json:"purchase_order"`
	Batches       []Batch        `json:"batches"`
	Logs          []ReceivingLog `json:"logs"`
}

// receivingLine is a validated decision bound to its order line.
type receivingLine struct {
	line     PurchaseOrderItem
	decision ReceivingDecision
}

func checkReceivable(po *PurchaseOrder) error {
	if !po.Status.IsReceivable() {
		return &utils.InvalidStateError{Resource: "purchase order " + po.OrderNumber, State: string(po.Status), Action: "receive"}
	}
	if po.Status != PurchaseOrderStatusSubmitted && config.StrictReceiving() {
		return &utils.InvalidStateError{Resource: "purchase order " + po.OrderNumber, State: string(po.Status), Action: "receive"}
	}
	return nil
}

// decisionField labels errors by the caller's line index, or by order line id
// for lines the caller left out.
func decisionField(idx int, mentioned bool, lineId int) string {
	if !mentioned {
		return fmt.Sprintf("purchase_order_items[%d].", lineId)
	}
	return fmt.Sprintf("lines[%d].", idx)
}

// resolveDecisions matches every order line with a decision. Lines the caller
// did not mention are rejected with zero quantity.
func resolveDecisions(po *PurchaseOrder, input *NewReceiving, receivedDate time.Time) ([]receivingLine, error) {
	verr := utils.NewValidationError()

	byLine := make(map[int]int, len(input.Lines))
	for i, d := range input.Lines {
		field := fmt.Sprintf("lines[%d].", i)
		if _, dup := byLine[d.PurchaseOrderItemId]; dup {
			verr.Add(field+"purchase_order_item_id", "appears more than once")
			continue
		}
		byLine[d.PurchaseOrderItemId] = i
	}
	known := make(map[int]bool, len(po.Items))
	for _, l := range po.Items {
		known[l.ID] = true
	}
	for i, d := range input.Lines {
		if !known[d.PurchaseOrderItemId] {
			verr.Add(fmt.Sprintf("lines[%d].purchase_order_item_id", i), "is not a line of "+po.OrderNumber)
		}
	}

	defaultExpiry := utils.StartOfDay(po.OrderDate).AddDate(0, 0, config.ReceivingDefaultExpiryDays())
	resolved := make([]receivingLine, 0, len(po.Items))
	for _, line := range po.Items {
		idx, ok := byLine[line.ID]
		field := decisionField(idx, ok, line.ID)
		var decision ReceivingDecision
		if ok {
			decision = input.Lines[idx]
		} else {
			decision = ReceivingDecision{
				PurchaseOrderItemId: line.ID,
				ReceivedQuantity:    decimal.Zero,
				IsAccepted:          false,
				RejectionReason:     RejectionReasonOther,
			}
		}

		if decision.ReceivedQuantity.IsNegative() {
			verr.Add(field+"received_quantity", "must not be negative")
		}
		if decision.ExpirationDate == nil {
			exp := line.ExpectedExpirationDate
			if exp == nil {
				exp = &defaultExpiry
			}
			decision.ExpirationDate = exp
		}
		if decision.IsAccepted {
			decision.RejectionReason = RejectionReasonAccepted
			if decision.ReceivedQuantity.IsPositive() {
				if err := validateBatch(decision.ReceivedQuantity, line.UnitCost, decision.ExpirationDate); err != nil {
					if fieldErr, ok := err.(*utils.ValidationError); ok {
						for k, v := range fieldErr.Fields {
							verr.Add(field+k, v)
						}
					}
				}
			}
		} else {
			decision.ReceivedQuantity = decimal.Zero
			if decision.RejectionReason == "" {
				decision.RejectionReason = RejectionReasonOther
			}
			if !decision.RejectionReason.IsValid() || decision.RejectionReason == RejectionReasonAccepted {
				verr.Add(field+"rejection_reason", "must be EXPIRED, SHORT_DATE, DAMAGED, LATE_DELIVERY or OTHER")
			}
		}
		resolved = append(resolved, receivingLine{line: line, decision: decision})
	}

	if receivedDate.Before(utils.StartOfDay(po.OrderDate)) {
		verr.Add("received_date", "must not be before the order date")
	}
	return resolved, verr.OrNil()
}

// ReceivePurchaseOrder books what arrived for an order in one transaction: a
// batch per accepted line, a log per line, and the move to RECEIVED.
func ReceivePurchaseOrder(ctx context.Context, orderId int, input *NewReceiving) (*ReceivingResult, error) {
	logger := config.GetLogger()

	po, err := utils.FetchModel[PurchaseOrder](ctx, orderId, "Items")
	if err != nil {
		return nil, err
	}
	if err := checkReceivable(po); err != nil {
		return nil, err
	}
	receivedDate := utils.Today()
	if input.ReceivedDate != nil {
		receivedDate = *input.ReceivedDate
	}
	// validate before taking the row lock; the locked read is resolved again below
	if _, err := resolveDecisions(po, input, receivedDate); err != nil {
		return nil, err
	}
	if po.Status != PurchaseOrderStatusSubmitted {
		config.LogWarning(logger, "Receiving", "ReceivePurchaseOrder",
			"receiving a purchase order that was not submitted", map[string]interface{}{"po_id": po.OrderNumber, "status": po.Status})
	}

	result := ReceivingResult{}
	receivedBy := utils.ActorFromContext(ctx)
	now := time.Now()
	var touchedItems []int

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockOrderTx(tx, orderId)
		if err != nil {
			return err
		}
		// a concurrent receive or line edit may have landed since the first read
		if err := checkReceivable(locked); err != nil {
			return err
		}
		lines, err := resolveDecisions(locked, input, receivedDate)
		if err != nil {
			return err
		}

		for _, rl := range lines {
			d := rl.decision
			log := ReceivingLog{
				PurchaseOrderId:     locked.ID,
				PurchaseOrderItemId: rl.line.ID,
				InventoryItemId:     rl.line.InventoryItemId,
				OrderedQuantity:     rl.line.Quantity,
				ReceivedQuantity:    d.ReceivedQuantity,
				ExpirationDate:      d.ExpirationDate,
				IsAccepted:          d.IsAccepted,
				RejectionReason:     d.RejectionReason,
				ReceivedBy:          receivedBy,
				ReceivedAt:          now,
			}

			if d.IsAccepted && d.ReceivedQuantity.IsPositive() {
				lineId := rl.line.ID
				batch := Batch{
					InventoryItemId:     rl.line.InventoryItemId,
					Quantity:            d.ReceivedQuantity,
					UnitCost:            rl.line.UnitCost,
					ExpirationDate:      d.ExpirationDate,
					PurchaseOrderItemId: &lineId,
				}
				if _, err := recordBatchTx(tx, &batch); err != nil {
					return err
				}
				log.BatchId = &batch.ID
				result.Batches = append(result.Batches, batch)
				touchedItems = append(touchedItems, batch.InventoryItemId)

				orderDate := locked.OrderDate
				if _, err := upsertVendorItemTx(tx, locked.VendorId, rl.line.InventoryItemId, vendorItemTouch{
					costPrice:   rl.line.UnitCost,
					orderNumber: locked.OrderNumber,
					orderedAt:   &orderDate,
					receivedAt:  &receivedDate,
				}); err != nil {
					return err
				}
			}

			if err := tx.Create(&log).Error; err != nil {
				return err
			}
			result.Logs = append(result.Logs, log)
		}

		from := locked.Status
		if err := tx.Model(&PurchaseOrder{}).Where("id = ?", locked.ID).Updates(map[string]interface{}{
			"status":        PurchaseOrderStatusReceived,
			"received_date": receivedDate,
		}).Error; err != nil {
			return err
		}
		locked.Status = PurchaseOrderStatusReceived
		locked.ReceivedDate = &receivedDate
		result.PurchaseOrder = locked

		return createHistory(tx, ActionTypeReceive, locked.ID, "purchase_orders", from, PurchaseOrderStatusReceived,
			fmt.Sprintf("%s received: %d batch(es), %d line(s) logged", locked.OrderNumber, len(result.Batches), len(result.Logs)))
	})
	if err != nil {
		config.LogError(logger, "Receiving", "ReceivePurchaseOrder", "receive purchase order", orderId, err)
		return nil, err
	}

	invalidateItemCache(utils.UniqueSlice(touchedItems)...)
	for _, l := range result.Logs {
		metrics.ReceivingLines.WithLabelValues(string(l.RejectionReason)).Inc()
	}
	metrics.BatchesRecorded.Add(float64(len(result.Batches)))
	return &result, nil
}

func ListReceivingLogs(ctx context.Context, orderId int) ([]*ReceivingLog, error) {
	if err := utils.ValidateResourceId[PurchaseOrder](ctx, orderId); err != nil {
		return nil, err
	}
	var results []*ReceivingLog
	err := config.GetDB().WithContext(ctx).Where("purchase_order_id = ?", orderId).Order("id").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

type ReceivingLineSummary struct {
	PurchaseOrderItemId int             `json:"purchase_order_item_id"`
	InventoryItemId     int             `json:"inventory_item_id"`
	OrderedQuantity     decimal.Decimal `json:"ordered_quantity"`
	AcceptedQuantity    decimal.Decimal `json:"accepted_quantity"`
	Rejected            bool            `json:"rejected"`
	RejectionReason     RejectionReason `json:"rejection_reason"`
	IsPartial           bool            `json:"is_partial"`
}

type ReceivingSummaryResult struct {
	OrderNumber      string                 `json:"po_id"`
	Lines            []ReceivingLineSummary `json:"lines"`
	OrderedQuantity  decimal.Decimal        `json:"ordered_quantity"`
	AcceptedQuantity decimal.Decimal        `json:"accepted_quantity"`
	IsPartial        bool                   `json:"is_partial"`
}

// ReceivingSummary compares what was ordered with what was accepted, per line.
func ReceivingSummary(ctx context.Context, orderId int) (*ReceivingSummaryResult, error) {
	po, err := utils.FetchModel[PurchaseOrder](ctx, orderId, "Items")
	if err != nil {
		return nil, err
	}
	logs, err := ListReceivingLogs(ctx, orderId)
	if err != nil {
		return nil, err
	}
	accepted := make(map[int]decimal.Decimal)
	reasons := make(map[int]RejectionReason)
	for _, l := range logs {
		accepted[l.PurchaseOrderItemId] = accepted[l.PurchaseOrderItemId].Add(l.ReceivedQuantity)
		if !l.IsAccepted {
			reasons[l.PurchaseOrderItemId] = l.RejectionReason
		}
	}

	summary := ReceivingSummaryResult{
		OrderNumber:      po.OrderNumber,
		OrderedQuantity:  decimal.Zero,
		AcceptedQuantity: decimal.Zero,
	}
	for _, line := range po.Items {
		got := accepted[line.ID]
		reason, rejected := reasons[line.ID]
		ls := ReceivingLineSummary{
			PurchaseOrderItemId: line.ID,
			InventoryItemId:     line.InventoryItemId,
			OrderedQuantity:     line.Quantity,
			AcceptedQuantity:    got,
			Rejected:            rejected,
			RejectionReason:     reason,
			IsPartial:           got.LessThan(line.Quantity),
		}
		summary.Lines = append(summary.Lines, ls)
		summary.OrderedQuantity = summary.OrderedQuantity.Add(line.Quantity)
		summary.AcceptedQuantity = summary.AcceptedQuantity.Add(got)
		if ls.IsPartial {
			summary.IsPartial = true
		}
	}
	return &summary, nil
}

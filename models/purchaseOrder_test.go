package models_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/models"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
)

func createOrder(t *testing.T, ctx context.Context, vendorId int, status models.PurchaseOrderStatus, lines ...models.NewPurchaseOrderItem) *models.PurchaseOrder {
	t.Helper()
	po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		VendorId: vendorId,
		Status:   status,
		Items:    lines,
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}
	return po
}

func TestCreatePurchaseOrderTotals(t *testing.T) {
	ctx := setupDatabase(t)
	vendor := mustCreateVendor(t, ctx, "Acme")
	flour := mustCreateItem(t, ctx, "100", "Flour", "20")
	sugar := mustCreateItem(t, ctx, "101", "Sugar", "9")

	po := createOrder(t, ctx, vendor.ID, "",
		models.NewPurchaseOrderItem{InventoryItemId: flour.ID, Quantity: dec("2"), UnitCost: decPtr("10")},
		models.NewPurchaseOrderItem{InventoryItemId: sugar.ID, Quantity: dec("3"), UnitCost: decPtr("5")},
	)
	if po.OrderNumber != "PO-0001" {
		t.Fatalf("expected PO-0001, got %s", po.OrderNumber)
	}
	if po.Status != models.PurchaseOrderStatusDraft {
		t.Fatalf("expected DRAFT default, got %s", po.Status)
	}
	if !po.TotalCost.Equal(dec("35")) || !po.ItemsCount.Equal(dec("5")) {
		t.Fatalf("expected total 35 and 5 items, got %s and %s", po.TotalCost, po.ItemsCount)
	}
	if po.PaymentTerms != vendor.PaymentTerms || po.PaymentMethod != vendor.PaymentMethod {
		t.Fatalf("payment terms should default from the vendor, got %s/%s", po.PaymentTerms, po.PaymentMethod)
	}

	second := createOrder(t, ctx, vendor.ID, models.PurchaseOrderStatusSubmitted)
	if second.OrderNumber != "PO-0002" || !second.TotalCost.IsZero() {
		t.Fatalf("unexpected second order %s total %s", second.OrderNumber, second.TotalCost)
	}

	stored, err := models.GetPurchaseOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("GetPurchaseOrder: %v", err)
	}
	if len(stored.Items) != 2 || stored.Vendor == nil || stored.Vendor.ID != vendor.ID {
		t.Fatalf("expected lines and vendor preloaded, got %+v", stored)
	}
}

func TestCreatePurchaseOrderValidation(t *testing.T) {
	ctx := setupDatabase(t)
	vendor := mustCreateVendor(t, ctx, "Acme")
	item := mustCreateItem(t, ctx, "100", "Flour", "20")

	_, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		VendorId:     vendor.ID,
		Status:       models.PurchaseOrderStatusReceived,
		OrderDate:    daysFromNow(0),
		ExpectedDate: daysFromNow(-3),
		Items: []models.NewPurchaseOrderItem{
			{InventoryItemId: item.ID, Quantity: dec("0")},
		},
	})
	var verr *utils.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"status", "expected_date", "items[0].quantity"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Fatalf("expected %s flagged, got %v", field, verr.Fields)
		}
	}

	_, err = models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{VendorId: vendor.ID + 50})
	if !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected not found for unknown vendor, got %v", err)
	}
	_, err = models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
		VendorId: vendor.ID,
		Items:    []models.NewPurchaseOrderItem{{InventoryItemId: item.ID + 50, Quantity: dec("1")}},
	})
	if !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected not found for unknown item, got %v", err)
	}
	if last, _ := models.CurrentSequence(ctx, models.SequencePurchaseOrder); last != 0 {
		t.Fatalf("rejected orders consumed numbers: %d", last)
	}
}

func TestLineCostDefaultsToLastCost(t *testing.T) {
	ctx := setupDatabase(t)
	vendor := mustCreateVendor(t, ctx, "Acme")
	item := mustCreateItem(t, ctx, "100", "Flour", "20")

	if _, err := models.UpsertVendorItem(ctx, &models.NewVendorItem{
		VendorId: vendor.ID, InventoryItemId: item.ID, CostPrice: dec("6"),
	}); err != nil {
		t.Fatalf("UpsertVendorItem: %v", err)
	}
	po := createOrder(t, ctx, vendor.ID, "",
		models.NewPurchaseOrderItem{InventoryItemId: item.ID, Quantity: dec("1")})
	if !po.Items[0].UnitCost.Equal(dec("6")) {
		t.Fatalf("expected vendor link cost 6, got %s", po.Items[0].UnitCost)
	}

	line, err := models.AddLineItem(ctx, po.ID, &models.NewPurchaseOrderItem{InventoryItemId: item.ID, Quantity: dec("2"), UnitCost: decPtr("7")})
	if err != nil {
		t.Fatalf("AddLineItem: %v", err)
	}
	cost, err := models.LastUnitCost(ctx, vendor.ID, item.ID)
	if err != nil {
		t.Fatalf("LastUnitCost: %v", err)
	}
	if !cost.Equal(dec("7")) {
		t.Fatalf("expected most recent line cost 7, got %s", cost)
	}

	defaulted, err := models.AddLineItem(ctx, po.ID, &models.NewPurchaseOrderItem{InventoryItemId: item.ID, Quantity: dec("1")})
	if err != nil {
		t.Fatalf("AddLineItem: %v", err)
	}
	if !defaulted.UnitCost.Equal(dec("7")) {
		t.Fatalf("expected defaulted cost 7 after line %d, got %s", line.ID, defaulted.UnitCost)
	}

	stored, err := models.GetPurchaseOrder(ctx, po.ID)
	if err != nil {
		t.Fatalf("GetPurchaseOrder: %v", err)
	}
	// 1*6 + 2*7 + 1*7
	if !stored.TotalCost.Equal(dec("27")) || !stored.ItemsCount.Equal(dec("4")) {
		t.Fatalf("expected totals 27/4, got %s/%s", stored.TotalCost, stored.ItemsCount)
	}
}

func TestLineEditsFollowStatus(t *testing.T) {
	ctx := setupDatabase(t)
	vendor := mustCreateVendor(t, ctx, "Acme")
	item := mustCreateItem(t, ctx, "100", "Flour", "20")

	po := createOrder(t, ctx, vendor.ID, "",
		models.NewPurchaseOrderItem{InventoryItemId: item.ID, Quantity: dec("2"), UnitCost: decPtr("10")},
		models.NewPurchaseOrderItem{InventoryItemId: item.ID, Quantity: dec("1"), UnitCost: decPtr("4")},
	)
	first, second := po.Items[0], po.Items[1]

	if _, err := models.UpdateLineItem(ctx, first.ID, &models.NewPurchaseOrderItem{
		InventoryItemId: item.ID, Quantity: dec("5"), UnitCost: decPtr("10"),
	}); err != nil {
		t.Fatalf("UpdateLineItem: %v", err)
	}
	if _, err := models.RemoveLineItem(ctx, second.ID); err != nil {
		t.Fatalf("RemoveLineItem: %v", err)
	}
	stored, err := models.RecalculateTotals(ctx, po.ID)
	if err != nil {
		t.Fatalf("RecalculateTotals: %v", err)
	}
	if len(stored.Items) != 1 || !stored.TotalCost.Equal(dec("50")) || !stored.ItemsCount.Equal(dec("5")) {
		t.Fatalf("expected one line worth 50, got %d lines total %s", len(stored.Items), stored.TotalCost)
	}

	if _, err := models.TransitionPurchaseOrder(ctx, po.ID, models.PurchaseOrderStatusSubmitted); err != nil {
		t.Fatalf("TransitionPurchaseOrder: %v", err)
	}
	_, err = models.UpdateLineItem(ctx, first.ID, &models.NewPurchaseOrderItem{
		InventoryItemId: item.ID, Quantity: dec("9"), UnitCost: decPtr("10"),
	})
	if !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("expected invalid state editing a submitted order, got %v", err)
	}
	if _, err := models.AddLineItem(ctx, po.ID, &models.NewPurchaseOrderItem{InventoryItemId: item.ID, Quantity: dec("1")}); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("expected invalid state adding to a submitted order, got %v", err)
	}
	if _, err := models.RemoveLineItem(ctx, first.ID); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("expected invalid state removing from a submitted order, got %v", err)
	}
}

func TestTransitionPurchaseOrder(t *testing.T) {
	ctx := setupDatabase(t)
	vendor := mustCreateVendor(t, ctx, "Acme")
	po := createOrder(t, ctx, vendor.ID, "")

	for _, to := range []models.PurchaseOrderStatus{models.PurchaseOrderStatusClosed, models.PurchaseOrderStatusReceived} {
		if _, err := models.TransitionPurchaseOrder(ctx, po.ID, to); !errors.Is(err, utils.ErrInvalidState) {
			t.Fatalf("DRAFT -> %s: expected invalid state, got %v", to, err)
		}
	}
	if _, err := models.TransitionPurchaseOrder(ctx, po.ID, "SHIPPED"); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}

	for _, to := range []models.PurchaseOrderStatus{models.PurchaseOrderStatusApproved, models.PurchaseOrderStatusSubmitted} {
		moved, err := models.TransitionPurchaseOrder(ctx, po.ID, to)
		if err != nil {
			t.Fatalf("move to %s: %v", to, err)
		}
		if moved.Status != to {
			t.Fatalf("expected %s, got %s", to, moved.Status)
		}
	}
	// receiving is the only way into RECEIVED
	if _, err := models.TransitionPurchaseOrder(ctx, po.ID, models.PurchaseOrderStatusReceived); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("SUBMITTED -> RECEIVED: expected invalid state, got %v", err)
	}
	if _, err := models.TransitionPurchaseOrder(ctx, po.ID, models.PurchaseOrderStatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := models.TransitionPurchaseOrder(ctx, po.ID, models.PurchaseOrderStatusDraft); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("CANCELLED is terminal, got %v", err)
	}

	histories, err := models.ListHistories(ctx, "purchase_orders", po.ID)
	if err != nil {
		t.Fatalf("ListHistories: %v", err)
	}
	var moves int
	for _, h := range histories {
		if h.ActionType == models.ActionTypeTransition {
			moves++
		}
	}
	if moves != 3 {
		t.Fatalf("expected 3 status history rows, got %d", moves)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.PurchaseOrderStatus
		want     bool
	}{
		{models.PurchaseOrderStatusDraft, models.PurchaseOrderStatusApproved, true},
		{models.PurchaseOrderStatusDraft, models.PurchaseOrderStatusSubmitted, true},
		{models.PurchaseOrderStatusDraft, models.PurchaseOrderStatusCancelled, true},
		{models.PurchaseOrderStatusDraft, models.PurchaseOrderStatusClosed, false},
		{models.PurchaseOrderStatusApproved, models.PurchaseOrderStatusDraft, false},
		{models.PurchaseOrderStatusSubmitted, models.PurchaseOrderStatusReceived, true},
		{models.PurchaseOrderStatusSubmitted, models.PurchaseOrderStatusApproved, false},
		{models.PurchaseOrderStatusReceived, models.PurchaseOrderStatusClosed, true},
		{models.PurchaseOrderStatusReceived, models.PurchaseOrderStatusCancelled, false},
		{models.PurchaseOrderStatusClosed, models.PurchaseOrderStatusDraft, false},
		{models.PurchaseOrderStatusCancelled, models.PurchaseOrderStatusDraft, false},
	}
	for _, tt := range tests {
		if got := models.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDeletePurchaseOrder(t *testing.T) {
	ctx := setupDatabase(t)
	vendor := mustCreateVendor(t, ctx, "Acme")
	item := mustCreateItem(t, ctx, "100", "Flour", "20")

	draft := createOrder(t, ctx, vendor.ID, "",
		models.NewPurchaseOrderItem{InventoryItemId: item.ID, Quantity: dec("1"), UnitCost: decPtr("1")})
	if _, err := models.DeletePurchaseOrder(ctx, draft.ID); err != nil {
		t.Fatalf("DeletePurchaseOrder: %v", err)
	}
	if _, err := models.GetPurchaseOrder(ctx, draft.ID); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if count, _ := utils.ResourceCountWhere[models.PurchaseOrderItem](ctx, "purchase_order_id = ?", draft.ID); count != 0 {
		t.Fatalf("lines left behind: %d", count)
	}

	received := createOrder(t, ctx, vendor.ID, models.PurchaseOrderStatusSubmitted,
		models.NewPurchaseOrderItem{InventoryItemId: item.ID, Quantity: dec("1"), UnitCost: decPtr("1")})
	if _, err := models.ReceivePurchaseOrder(ctx, received.ID, &models.NewReceiving{}); err != nil {
		t.Fatalf("ReceivePurchaseOrder: %v", err)
	}
	if _, err := models.DeletePurchaseOrder(ctx, received.ID); !errors.Is(err, utils.ErrInvalidState) {
		t.Fatalf("expected invalid state deleting a received order, got %v", err)
	}

	// closing a received order lifts the restriction
	if _, err := models.TransitionPurchaseOrder(ctx, received.ID, models.PurchaseOrderStatusClosed); err != nil {
		t.Fatalf("close: %v", err)
	}
	deleted, err := models.DeletePurchaseOrder(ctx, received.ID)
	if err != nil {
		t.Fatalf("delete closed order: %v", err)
	}
	if deleted.Status != models.PurchaseOrderStatusClosed {
		t.Fatalf("expected the closed order back, got %s", deleted.Status)
	}
	if _, err := models.GetPurchaseOrder(ctx, received.ID); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected not found after deleting the closed order, got %v", err)
	}
}

func TestUpdatePurchaseOrderHeader(t *testing.T) {
	ctx := setupDatabase(t)
	vendor := mustCreateVendor(t, ctx, "Acme")
	po := createOrder(t, ctx, vendor.ID, "")

	notes := "call before delivery"
	updated, err := models.UpdatePurchaseOrder(ctx, po.ID, &models.UpdatePurchaseOrderInput{
		ExpectedDate: daysFromNow(7),
		PaymentTerms: models.PaymentTermsNet60,
		Notes:        &notes,
	})
	if err != nil {
		t.Fatalf("UpdatePurchaseOrder: %v", err)
	}
	if updated.PaymentTerms != models.PaymentTermsNet60 || updated.Notes != notes || updated.ExpectedDate == nil {
		t.Fatalf("unexpected update: %+v", updated)
	}

	_, err = models.UpdatePurchaseOrder(ctx, po.ID, &models.UpdatePurchaseOrderInput{ExpectedDate: daysFromNow(-30)})
	if !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error for expected date before order date, got %v", err)
	}
}

func TestParsePurchaseOrderNumber(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"PO-0094", 94, true},
		{"po-0094", 94, true},
		{"PO0094", 94, true},
		{"0094", 94, true},
		{"94", 94, true},
		{" PO-12345 ", 12345, true},
		{"PO-0000", 0, false},
		{"PO-", 0, false},
		{"VEN-0001", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := models.ParsePurchaseOrderNumber(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParsePurchaseOrderNumber(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFindPurchaseOrderByNumber(t *testing.T) {
	ctx := setupDatabase(t)
	vendor := mustCreateVendor(t, ctx, "Acme")
	po := createOrder(t, ctx, vendor.ID, "")

	for _, number := range []string{"PO-0001", "po-1", "0001"} {
		found, err := models.FindPurchaseOrderByNumber(ctx, number)
		if err != nil {
			t.Fatalf("FindPurchaseOrderByNumber(%q): %v", number, err)
		}
		if found.ID != po.ID {
			t.Fatalf("FindPurchaseOrderByNumber(%q) returned order %d", number, found.ID)
		}
	}
	if _, err := models.FindPurchaseOrderByNumber(ctx, "PO-0002"); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := models.FindPurchaseOrderByNumber(ctx, "ninety"); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListPurchaseOrdersFilters(t *testing.T) {
	ctx := setupDatabase(t)
	acme := mustCreateVendor(t, ctx, "Acme")
	other := mustCreateVendor(t, ctx, "Other")
	createOrder(t, ctx, acme.ID, "")
	createOrder(t, ctx, acme.ID, models.PurchaseOrderStatusSubmitted)
	createOrder(t, ctx, other.ID, models.PurchaseOrderStatusSubmitted)

	submitted, err := models.ListPurchaseOrders(ctx, models.PurchaseOrderFilter{Status: "submitted"})
	if err != nil {
		t.Fatalf("ListPurchaseOrders: %v", err)
	}
	if len(submitted) != 2 {
		t.Fatalf("expected 2 submitted orders, got %d", len(submitted))
	}
	byVendor, err := models.ListPurchaseOrders(ctx, models.PurchaseOrderFilter{VendorId: acme.ID})
	if err != nil {
		t.Fatalf("ListPurchaseOrders: %v", err)
	}
	if len(byVendor) != 2 {
		t.Fatalf("expected 2 orders for acme, got %d", len(byVendor))
	}
	byNumber, err := models.ListPurchaseOrders(ctx, models.PurchaseOrderFilter{Query: "0003"})
	if err != nil {
		t.Fatalf("ListPurchaseOrders: %v", err)
	}
	if len(byNumber) != 1 || byNumber[0].VendorId != other.ID {
		t.Fatalf("expected PO-0003 only, got %d", len(byNumber))
	}
	if _, err := models.ListPurchaseOrders(ctx, models.PurchaseOrderFilter{Status: "LOST"}); !errors.Is(err, utils.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestListOverduePurchaseOrders(t *testing.T) {
	ctx := setupDatabase(t)
	vendor := mustCreateVendor(t, ctx, "Acme")
	item := mustCreateItem(t, ctx, "100", "Flour", "20")
	line := models.NewPurchaseOrderItem{InventoryItemId: item.ID, Quantity: dec("1"), UnitCost: decPtr("1")}

	create := func(status models.PurchaseOrderStatus, expected *time.Time) *models.PurchaseOrder {
		po, err := models.CreatePurchaseOrder(ctx, &models.NewPurchaseOrder{
			VendorId:     vendor.ID,
			Status:       status,
			OrderDate:    daysFromNow(-10),
			ExpectedDate: expected,
			Items:        []models.NewPurchaseOrderItem{line},
		})
		if err != nil {
			t.Fatalf("CreatePurchaseOrder: %v", err)
		}
		return po
	}
	late := create(models.PurchaseOrderStatusSubmitted, daysFromNow(-3))
	create(models.PurchaseOrderStatusSubmitted, daysFromNow(2))
	create(models.PurchaseOrderStatusDraft, daysFromNow(-3))
	create(models.PurchaseOrderStatusSubmitted, nil)

	overdue, err := models.ListOverduePurchaseOrders(ctx)
	if err != nil {
		t.Fatalf("ListOverduePurchaseOrders: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != late.ID {
		t.Fatalf("expected only %s overdue, got %d orders", late.OrderNumber, len(overdue))
	}
}

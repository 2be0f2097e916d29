package models

import (
	"errors"
	"strings"
)

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "DRAFT"
	PurchaseOrderStatusApproved  PurchaseOrderStatus = "APPROVED"
	PurchaseOrderStatusSubmitted PurchaseOrderStatus = "SUBMITTED"
	PurchaseOrderStatusReceived  PurchaseOrderStatus = "RECEIVED"
	PurchaseOrderStatusClosed    PurchaseOrderStatus = "CLOSED"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "CANCELLED"
)

func ParsePurchaseOrderStatus(s string) (PurchaseOrderStatus, error) {
	purchaseOrderStatus := map[string]PurchaseOrderStatus{
		"DRAFT":     PurchaseOrderStatusDraft,
		"APPROVED":  PurchaseOrderStatusApproved,
		"SUBMITTED": PurchaseOrderStatusSubmitted,
		"RECEIVED":  PurchaseOrderStatusReceived,
		"CLOSED":    PurchaseOrderStatusClosed,
		"CANCELLED": PurchaseOrderStatusCancelled,
	}
	v, ok := purchaseOrderStatus[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return "", errors.New("invalid purchase order status")
	}
	return v, nil
}

// allowed edges of the order lifecycle
var purchaseOrderTransitions = map[PurchaseOrderStatus][]PurchaseOrderStatus{
	PurchaseOrderStatusDraft:     {PurchaseOrderStatusApproved, PurchaseOrderStatusSubmitted, PurchaseOrderStatusCancelled},
	PurchaseOrderStatusApproved:  {PurchaseOrderStatusSubmitted, PurchaseOrderStatusCancelled},
	PurchaseOrderStatusSubmitted: {PurchaseOrderStatusReceived, PurchaseOrderStatusCancelled},
	PurchaseOrderStatusReceived:  {PurchaseOrderStatusClosed},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from PurchaseOrderStatus, to PurchaseOrderStatus) bool {
	for _, next := range purchaseOrderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// lines may only change before the order goes out to the vendor
func (s PurchaseOrderStatus) IsEditable() bool {
	return s == PurchaseOrderStatusDraft || s == PurchaseOrderStatusApproved
}

func (s PurchaseOrderStatus) IsTerminal() bool {
	return s == PurchaseOrderStatusClosed || s == PurchaseOrderStatusCancelled
}

func (s PurchaseOrderStatus) IsReceivable() bool {
	return s == PurchaseOrderStatusDraft || s == PurchaseOrderStatusApproved || s == PurchaseOrderStatusSubmitted
}

// initial statuses accepted on create
func (s PurchaseOrderStatus) isInitial() bool {
	return s == PurchaseOrderStatusDraft || s == PurchaseOrderStatusApproved || s == PurchaseOrderStatusSubmitted
}

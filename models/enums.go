package models

import (
	"errors"
	"strings"
)

type ItemStatus string

const (
	ItemStatusActive   ItemStatus = "ACTIVE"
	ItemStatusInactive ItemStatus = "INACTIVE"
)

func ParseItemStatus(s string) (ItemStatus, error) {
	itemStatus := map[string]ItemStatus{
		"ACTIVE":   ItemStatusActive,
		"INACTIVE": ItemStatusInactive,
	}
	v, ok := itemStatus[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return "", errors.New("invalid item status")
	}
	return v, nil
}

type MeasurementType string

const (
	MeasurementTypeCount  MeasurementType = "count"
	MeasurementTypeWeight MeasurementType = "weight"
)

func ParseMeasurementType(s string) (MeasurementType, error) {
	measurementType := map[string]MeasurementType{
		"count":  MeasurementTypeCount,
		"weight": MeasurementTypeWeight,
	}
	v, ok := measurementType[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", errors.New("invalid measurement type")
	}
	return v, nil
}

type PaymentTerms string

const (
	PaymentTermsNet7    PaymentTerms = "NET7"
	PaymentTermsNet14   PaymentTerms = "NET14"
	PaymentTermsNet30   PaymentTerms = "NET30"
	PaymentTermsNet45   PaymentTerms = "NET45"
	PaymentTermsNet60   PaymentTerms = "NET60"
	PaymentTermsNet90   PaymentTerms = "NET90"
	PaymentTermsCOD     PaymentTerms = "COD"
	PaymentTermsPrepaid PaymentTerms = "PREPAID"
	PaymentTermsOther   PaymentTerms = "OTHER"
)

func (t PaymentTerms) IsValid() bool {
	switch t {
	case PaymentTermsNet7, PaymentTermsNet14, PaymentTermsNet30, PaymentTermsNet45, PaymentTermsNet60,
		PaymentTermsNet90, PaymentTermsCOD, PaymentTermsPrepaid, PaymentTermsOther:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "CASH"
	PaymentMethodCredit PaymentMethod = "CREDIT"
	PaymentMethodCheck  PaymentMethod = "CHECK"
	PaymentMethodBank   PaymentMethod = "BANK"
	PaymentMethodOther  PaymentMethod = "OTHER"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCredit, PaymentMethodCheck, PaymentMethodBank, PaymentMethodOther:
		return true
	}
	return false
}

type VendorStatus string

const (
	VendorStatusActive   VendorStatus = "Active"
	VendorStatusInactive VendorStatus = "Inactive"
)

type RejectionReason string

const (
	RejectionReasonExpired      RejectionReason = "EXPIRED"
	RejectionReasonShortDate    RejectionReason = "SHORT_DATE"
	RejectionReasonDamaged      RejectionReason = "DAMAGED"
	RejectionReasonLateDelivery RejectionReason = "LATE_DELIVERY"
	RejectionReasonOther        RejectionReason = "OTHER"
	RejectionReasonAccepted     RejectionReason = "ACCEPTED"
)

func (r RejectionReason) IsValid() bool {
	switch r {
	case RejectionReasonExpired, RejectionReasonShortDate, RejectionReasonDamaged,
		RejectionReasonLateDelivery, RejectionReasonOther, RejectionReasonAccepted:
		return true
	}
	return false
}

type SaleStatus string

const (
	SaleStatusDraft     SaleStatus = "draft"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusRefunded  SaleStatus = "refunded"
)

func (s SaleStatus) IsValid() bool {
	return s == SaleStatusDraft || s == SaleStatusCompleted || s == SaleStatusRefunded
}

// ItemKey selects the natural key used to match an existing inventory item.
type ItemKey string

const (
	ItemKeyBarcode ItemKey = "barcode"
	ItemKeyName    ItemKey = "name"
)

const (
	ActionTypeCreate     = "CREATE"
	ActionTypeUpdate     = "UPDATE"
	ActionTypeDelete     = "DELETE"
	ActionTypeTransition = "STATUS"
	ActionTypeReceive    = "RECEIVE"
)

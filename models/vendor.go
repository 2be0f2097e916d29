package models

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"gorm.io/gorm"
)

type Vendor struct {
	ID            int           `gorm:"primary_key" json:"id"`
	VendorCode    string        `gorm:"size:20;not null;uniqueIndex" json:"vendor_id"`
	SequenceNo    int64         `gorm:"not null;uniqueIndex" json:"sequence_no"`
	CompanyName   string        `gorm:"size:255;not null;index" json:"company_name"`
	ContactName   string        `gorm:"size:255" json:"contact_name"`
	Email         string        `gorm:"size:255" json:"email"`
	Phone         string        `gorm:"size:20" json:"phone"`
	AddressLine1  string        `gorm:"size:255;not null" json:"address_line1"`
	AddressLine2  string        `gorm:"size:255" json:"address_line2"`
	City          string        `gorm:"size:100;not null" json:"city"`
	State         string        `gorm:"size:100;not null" json:"state"`
	ZipCode       string        `gorm:"size:10;not null" json:"zip_code"`
	Country       string        `gorm:"size:100" json:"country"`
	PaymentTerms  PaymentTerms  `gorm:"size:20;not null" json:"payment_terms"`
	PaymentMethod PaymentMethod `gorm:"size:20;not null" json:"payment_method"`
	Website       string        `gorm:"size:255" json:"website"`
	Status        VendorStatus  `gorm:"size:20;not null;index" json:"status"`
	Notes         string        `gorm:"type:text" json:"notes"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewVendor struct {
	CompanyName   string        `json:"company_name" validate:"required,max=255"`
	ContactName   string        `json:"contact_name" validate:"max=255"`
	Email         string        `json:"email" validate:"omitempty,email"`
	Phone         string        `json:"phone" validate:"omitempty,phone"`
	AddressLine1  string        `json:"address_line1" validate:"required,max=255"`
	AddressLine2  string        `json:"address_line2" validate:"max=255"`
	City          string        `json:"city" validate:"required,max=100"`
	State         string        `json:"state" validate:"required,max=100"`
	ZipCode       string        `json:"zip_code" validate:"zipcode"`
	Country       string        `json:"country" validate:"max=100"`
	PaymentTerms  PaymentTerms  `json:"payment_terms"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Website       string        `json:"website" validate:"omitempty,url"`
	Status        VendorStatus  `json:"status"`
	Notes         string        `json:"notes"`
}

var phoneFormatting = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

func (input *NewVendor) normalize() {
	input.CompanyName = strings.TrimSpace(input.CompanyName)
	input.ContactName = strings.TrimSpace(input.ContactName)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Phone = phoneFormatting.Replace(strings.TrimSpace(input.Phone))
	input.AddressLine1 = strings.TrimSpace(input.AddressLine1)
	input.AddressLine2 = strings.TrimSpace(input.AddressLine2)
	input.City = strings.TrimSpace(input.City)
	input.State = strings.TrimSpace(input.State)
	input.ZipCode = strings.TrimSpace(input.ZipCode)
	input.Country = strings.TrimSpace(input.Country)
	input.Website = utils.NormalizeWebsite(input.Website)
	input.PaymentTerms = PaymentTerms(strings.ToUpper(strings.TrimSpace(string(input.PaymentTerms))))
	input.PaymentMethod = PaymentMethod(strings.ToUpper(strings.TrimSpace(string(input.PaymentMethod))))
	if input.PaymentTerms == "" {
		input.PaymentTerms = PaymentTermsNet30
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = PaymentMethodCheck
	}
	if input.Status == "" {
		input.Status = VendorStatusActive
	}
	if input.Country == "" {
		input.Country = "USA"
	}
}

// validate reports every offending field at once.
func (input *NewVendor) validate() error {
	verr := utils.ValidateStruct(input)
	if input.Phone != "" {
		if _, flagged := verr.Fields["phone"]; !flagged {
			if err := utils.ValidatePhoneNumber(input.Phone, config.DefaultPhoneRegion()); err != nil {
				verr.Add("phone", "is not a valid phone number")
			}
		}
	}
	if !input.PaymentTerms.IsValid() {
		verr.Add("payment_terms", "is not an allowed value")
	}
	if !input.PaymentMethod.IsValid() {
		verr.Add("payment_method", "is not an allowed value")
	}
	if input.Status != VendorStatusActive && input.Status != VendorStatusInactive {
		verr.Add("status", "must be Active or Inactive")
	}
	return verr.OrNil()
}

func (input *NewVendor) apply(vendor *Vendor) {
	vendor.CompanyName = input.CompanyName
	vendor.ContactName = input.ContactName
	vendor.Email = input.Email
	vendor.Phone = input.Phone
	if input.Phone != "" {
		vendor.Phone = utils.FormatPhoneNumber(input.Phone, config.DefaultPhoneRegion())
	}
	vendor.AddressLine1 = input.AddressLine1
	vendor.AddressLine2 = input.AddressLine2
	vendor.City = input.City
	vendor.State = input.State
	vendor.ZipCode = input.ZipCode
	vendor.Country = input.Country
	vendor.PaymentTerms = input.PaymentTerms
	vendor.PaymentMethod = input.PaymentMethod
	vendor.Website = input.Website
	vendor.Status = input.Status
	vendor.Notes = input.Notes
}

func FormatVendorCode(seq int64) string {
	return fmt.Sprintf("VEN-%04d", seq)
}

func CreateVendor(ctx context.Context, input *NewVendor) (*Vendor, error) {
	input.normalize()
	if err := input.validate(); err != nil {
		return nil, err
	}

	var vendor Vendor
	input.apply(&vendor)

	err := withSequence(ctx, SequenceVendor, func(tx *gorm.DB, seq int64) error {
		vendor.SequenceNo = seq
		vendor.VendorCode = FormatVendorCode(seq)
		if err := tx.Create(&vendor).Error; err != nil {
			return err
		}
		return createHistory(tx, ActionTypeCreate, vendor.ID, "vendors", nil, vendor, "Created vendor "+vendor.VendorCode)
	})
	if err != nil {
		config.LogError(config.GetLogger(), "Vendor", "CreateVendor", "create vendor", input.CompanyName, err)
		return nil, err
	}
	return &vendor, nil
}

func GetVendor(ctx context.Context, id int) (*Vendor, error) {
	return utils.FetchModel[Vendor](ctx, id)
}

// UpdateVendor rewrites the editable fields. The vendor code never changes.
func UpdateVendor(ctx context.Context, id int, input *NewVendor) (*Vendor, error) {
	input.normalize()
	if err := input.validate(); err != nil {
		return nil, err
	}
	oldVendor, err := utils.FetchModel[Vendor](ctx, id)
	if err != nil {
		return nil, err
	}

	vendor := *oldVendor
	input.apply(&vendor)

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&vendor).Error; err != nil {
			return err
		}
		return createHistory(tx, ActionTypeUpdate, vendor.ID, "vendors", oldVendor, vendor, "Updated vendor "+vendor.VendorCode)
	})
	if err != nil {
		config.LogError(config.GetLogger(), "Vendor", "UpdateVendor", "update vendor", id, err)
		return nil, err
	}
	return &vendor, nil
}

func ToggleActiveVendor(ctx context.Context, id int, isActive bool) (*Vendor, error) {
	vendor, err := utils.FetchModel[Vendor](ctx, id)
	if err != nil {
		return nil, err
	}
	status := VendorStatusInactive
	if isActive {
		status = VendorStatusActive
	}
	if vendor.Status == status {
		return vendor, nil
	}
	before := vendor.Status
	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(vendor).Update("status", status).Error; err != nil {
			return err
		}
		return createHistory(tx, ActionTypeUpdate, vendor.ID, "vendors", before, status, "Changed vendor status to "+string(status))
	})
	if err != nil {
		return nil, err
	}
	vendor.Status = status
	return vendor, nil
}

// DeleteVendor refuses vendors still linked to items or referenced by purchase orders.
func DeleteVendor(ctx context.Context, id int) (*Vendor, error) {
	vendor, err := utils.FetchModel[Vendor](ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := utils.ResourceCountWhere[VendorItem](ctx, "vendor_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &utils.InvalidStateError{Resource: "vendor", State: "linked to inventory items", Action: "delete"}
	}
	count, err = utils.ResourceCountWhere[PurchaseOrder](ctx, "vendor_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &utils.InvalidStateError{Resource: "vendor", State: "referenced by purchase orders", Action: "delete"}
	}

	err = config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(vendor).Error; err != nil {
			return err
		}
		return createHistory(tx, ActionTypeDelete, vendor.ID, "vendors", vendor, nil, "Deleted vendor "+vendor.VendorCode)
	})
	if err != nil {
		return nil, err
	}
	return vendor, nil
}

// SearchVendors yields vendors whose company name contains query, ignoring case,
// in insertion order. Nothing is read until the sequence is ranged over, and
// every range starts a fresh scan, so the sequence can be walked again.
func SearchVendors(ctx context.Context, query string) iter.Seq2[*Vendor, error] {
	pattern := utils.LikePattern(query)
	return func(yield func(*Vendor, error) bool) {
		lastId := 0
		for {
			var page []*Vendor
			err := config.GetDB().WithContext(ctx).
				Where("LOWER(company_name) LIKE ? ESCAPE '!'", pattern).
				Where("id > ?", lastId).
				Order("id").
				Limit(config.SearchLimit).
				Find(&page).Error
			if err != nil {
				yield(nil, err)
				return
			}
			for _, v := range page {
				if !yield(v, nil) {
					return
				}
			}
			if len(page) < config.SearchLimit {
				return
			}
			lastId = page[len(page)-1].ID
		}
	}
}

package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Customer struct {
	ID          int       `gorm:"primary_key" json:"id"`
	CustomerId  string    `gorm:"size:20;not null;uniqueIndex" json:"customer_id"`
	FirstName   string    `gorm:"size:50;not null" json:"first_name"`
	LastName    string    `gorm:"size:50;not null" json:"last_name"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	CompanyName string    `gorm:"size:100" json:"company_name"`
	IsBusiness  bool      `gorm:"not null" json:"is_business"`
	IsActive    bool      `gorm:"not null" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type NewCustomer struct {
	FirstName   string `json:"first_name" validate:"required,max=50"`
	LastName    string `json:"last_name" validate:"required,max=50"`
	Email       string `json:"email" validate:"omitempty,email"`
	Phone       string `json:"phone" validate:"omitempty,phone"`
	CompanyName string `json:"company_name" validate:"max=100"`
	IsBusiness  bool   `json:"is_business"`
	IsActive    *bool  `json:"is_active"`
}

func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

func newCustomerId() string {
	return "CUS-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

func CreateCustomer(ctx context.Context, input *NewCustomer) (*Customer, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Phone = phoneFormatting.Replace(strings.TrimSpace(input.Phone))
	input.CompanyName = strings.TrimSpace(input.CompanyName)

	verr := utils.ValidateStruct(input)
	if input.IsBusiness && input.CompanyName == "" {
		verr.Add("company_name", "is required for business customers")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	customer := Customer{
		CustomerId:  newCustomerId(),
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Email:       input.Email,
		Phone:       input.Phone,
		CompanyName: input.CompanyName,
		IsBusiness:  input.IsBusiness,
		IsActive:    utils.DereferencePtr(input.IsActive, true),
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&customer).Error; err != nil {
			return err
		}
		return createHistory(tx, ActionTypeCreate, customer.ID, "customers", nil, customer, "Created customer "+customer.CustomerId)
	})
	if err != nil {
		config.LogError(config.GetLogger(), "Customer", "CreateCustomer", "create customer", input.LastName, err)
		return nil, err
	}
	return &customer, nil
}

func GetCustomer(ctx context.Context, id int) (*Customer, error) {
	return utils.FetchModel[Customer](ctx, id)
}

func ListCustomers(ctx context.Context, activeOnly bool) ([]*Customer, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if activeOnly {
		dbCtx = dbCtx.Where("is_active = ?", true)
	}
	var results []*Customer
	if err := dbCtx.Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

package utils

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	zipPattern   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	phonePattern = regexp.MustCompile(`^\+?1?\d{9,15}$`)
)

// Validator returns the shared validator. Field names in errors use the json tag.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("zipcode", func(fl validator.FieldLevel) bool {
			return zipPattern.MatchString(fl.Field().String())
		})
		_ = validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			if v == "" {
				return true
			}
			return phonePattern.MatchString(v)
		})
	})
	return validate
}

// ValidateStruct runs struct tags and folds every violation into one ValidationError.
func ValidateStruct(input any) *ValidationError {
	verr := NewValidationError()
	err := Validator().Struct(input)
	if err == nil {
		return verr
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add("input", err.Error())
		return verr
	}
	for field, tag := range ProcessValidationErrors(fieldErrs) {
		verr.Add(field, validationMessage(tag))
	}
	return verr
}

func validationMessage(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "zipcode":
		return "must be a 5 digit or ZIP+4 code"
	case "phone":
		return "must be 9 to 15 digits with an optional leading +"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "is not an allowed value"
	case "max":
		return "is too long"
	default:
		return "failed " + tag + " check"
	}
}

// check if id exists, return NotFoundError
func ValidateResourceId[T any](ctx context.Context, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return &NotFoundError{Resource: GetTypeName[T](), Key: id}
	}
	return nil
}

// check if ALL ids exist
func ValidateResourcesId[M any, ID comparable](ctx context.Context, ids []ID) error {
	unqIds := UniqueSlice(ids)
	if len(unqIds) == 0 {
		return nil
	}
	count, err := ResourceCountWhere[M](ctx, "id IN ?", unqIds)
	if err != nil {
		return err
	}
	if count != int64(len(unqIds)) {
		return &NotFoundError{Resource: GetTypeName[M](), Key: unqIds}
	}
	return nil
}

// ValidateUniqueTx fails on column when another row (any id but exceptId) holds value.
// It runs on tx so the check sees the same snapshot as the write that follows.
func ValidateUniqueTx[T any](tx *gorm.DB, column string, value interface{}, exceptId interface{}) error {
	var model T
	var count int64
	query := tx.Model(&model).Where(column+" = ?", value)
	if !reflect.ValueOf(exceptId).IsZero() {
		query = query.Where("NOT id = ?", exceptId)
	}
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ValidationFailed(column, "duplicate "+column)
	}
	return nil
}

// count records, using WHERE $condition
func ResourceCountWhere[T any](ctx context.Context, condition string, value ...interface{}) (int64, error) {
	var model T
	var count int64
	err := config.GetDB().WithContext(ctx).Model(&model).Where(condition, value...).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

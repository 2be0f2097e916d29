package models

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/metrics"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// InventoryRecord is one spreadsheet row, as text, in either direction.
type InventoryRecord struct {
	ItemId          string `json:"item_id,omitempty"`
	ItemName        string `json:"item_name"`
	UnitCost        string `json:"unit_cost"`
	UnitPrice       string `json:"unit_price"`
	Quantity        string `json:"quantity"`
	Barcode         string `json:"barcode"`
	MinStockLevel   string `json:"min_stock_level"`
	MaxStockLevel   string `json:"max_stock_level"`
	ProductCategory string `json:"product_category"`
	MeasurementType string `json:"measurement_type"`
	Status          string `json:"status"`
	ExpirationDate  string `json:"expiration_date"`
}

// CorrectedRecord is a typed row sent back after the user fixed an invalid import row.
type CorrectedRecord struct {
	Row             int             `json:"row"`
	ItemName        string          `json:"item_name"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	Barcode         string          `json:"barcode"`
	MinStockLevel   *int            `json:"min_stock_level"`
	MaxStockLevel   *int            `json:"max_stock_level"`
	ProductCategory string          `json:"product_category"`
	MeasurementType string          `json:"measurement_type"`
	Status          string          `json:"status"`
	ExpirationDate  *time.Time      `json:"expiration_date"`
}

type InvalidRecord struct {
	Row    int               `json:"row"`
	Record InventoryRecord   `json:"record"`
	Errors map[string]string `json:"errors"`
}

type ImportResult struct {
	Imported int             `json:"imported"`
	Created  int             `json:"created"`
	Updated  int             `json:"updated"`
	Invalid  []InvalidRecord `json:"invalid"`
}

// labelled spreadsheet headers, in template order
var ImportTemplateHeaders = []string{
	"Item Name (Required)",
	"Unit Cost (Required, Numeric)",
	"Unit Price (Required, Numeric)",
	"Quantity (Required, Numeric)",
	"Barcode (Optional)",
	"Min Stock Level (Optional, Default: 1)",
	"Max Stock Level (Optional, Default: 100)",
	"Product Category (Optional, Default: SYSTEM)",
	"Measurement Type (Optional, Default: count)",
	"Status (Optional, Default: Active)",
	"Expiration Date (Optional, Format: MM/DD/YYYY)",
}

var (
	headerNoise   = regexp.MustCompile(`\(.*\)`)
	headerAliases = map[string]string{
		"item_id":          "item_id",
		"name":             "item_name",
		"item_name":        "item_name",
		"cost":             "unit_cost",
		"unit_cost":        "unit_cost",
		"price":            "unit_price",
		"unit_price":       "unit_price",
		"quantity":         "quantity",
		"qty":              "quantity",
		"barcode":          "barcode",
		"min_level":        "min_stock_level",
		"min_stock_level":  "min_stock_level",
		"max_level":        "max_stock_level",
		"max_stock_level":  "max_stock_level",
		"category":         "product_category",
		"product_category": "product_category",
		"measurement_type": "measurement_type",
		"status":           "status",
		"expiration_date":  "expiration_date",
	}
)

// normalizeHeader maps "Unit Cost (Required, Numeric)" and "unit_cost" alike to unit_cost.
func normalizeHeader(h string) string {
	h = headerNoise.ReplaceAllString(h, "")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Join(strings.Fields(h), "_")
	return headerAliases[h]
}

func (r *InventoryRecord) set(column string, value string) {
	value = strings.TrimSpace(value)
	switch column {
	case "item_id":
		r.ItemId = value
	case "item_name":
		r.ItemName = value
	case "unit_cost":
		r.UnitCost = value
	case "unit_price":
		r.UnitPrice = value
	case "quantity":
		r.Quantity = value
	case "barcode":
		r.Barcode = value
	case "min_stock_level":
		r.MinStockLevel = value
	case "max_stock_level":
		r.MaxStockLevel = value
	case "product_category":
		r.ProductCategory = value
	case "measurement_type":
		r.MeasurementType = value
	case "status":
		r.Status = value
	case "expiration_date":
		r.ExpirationDate = value
	}
}

// recordsFromRows turns a header row plus data rows into records. Blank rows are skipped.
func recordsFromRows(rows [][]string) ([]InventoryRecord, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	columns := make([]string, len(rows[0]))
	found := false
	for i, h := range rows[0] {
		columns[i] = normalizeHeader(h)
		if columns[i] == "item_name" {
			found = true
		}
	}
	if !found {
		return nil, utils.ValidationFailed("file", "missing item name column")
	}

	var records []InventoryRecord
	for _, row := range rows[1:] {
		var rec InventoryRecord
		blank := true
		for i, cell := range row {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			if strings.TrimSpace(cell) != "" {
				blank = false
			}
			rec.set(columns[i], cell)
		}
		if blank {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func ReadInventoryCSV(r io.Reader) ([]InventoryRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, utils.ValidationFailed("file", "unreadable csv: "+err.Error())
	}
	// drop a UTF-8 byte order mark left by spreadsheet tools
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return recordsFromRows(rows)
}

func ReadInventoryXLSX(r io.Reader) ([]InventoryRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, utils.ValidationFailed("file", "unreadable xlsx: "+err.Error())
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, utils.ValidationFailed("file", "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("unable to read sheet: %v", err)
	}
	return recordsFromRows(rows)
}

func parseOptionalInt(verr *utils.ValidationError, field string, value string) *int {
	if value == "" {
		return nil
	}
	// spreadsheets hand back "5.0" for integer cells
	if d, err := decimal.NewFromString(value); err == nil && d.Equal(d.Truncate(0)) {
		n := int(d.IntPart())
		return &n
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		verr.Add(field, "must be a whole number")
		return nil
	}
	return &n
}

// typed converts the text row. Parse failures are reported per column.
func (r InventoryRecord) typed(row int) (CorrectedRecord, *utils.ValidationError) {
	verr := utils.NewValidationError()
	rec := CorrectedRecord{
		Row:             row,
		ItemName:        r.ItemName,
		Barcode:         r.Barcode,
		ProductCategory: r.ProductCategory,
		MeasurementType: r.MeasurementType,
		Status:          r.Status,
	}

	if cost, err := utils.ParseDecimal(r.UnitCost); err != nil {
		verr.Add("unit_cost", "must be a number greater than zero")
	} else {
		rec.UnitCost = cost
	}
	if price, err := utils.ParseDecimal(r.UnitPrice); err != nil {
		verr.Add("unit_price", "must be a number greater than zero")
	} else {
		rec.UnitPrice = price
	}
	if r.Quantity == "" {
		rec.Quantity = decimal.Zero
	} else if qty, err := utils.ParseDecimal(r.Quantity); err != nil {
		verr.Add("quantity", "must be a number")
	} else {
		rec.Quantity = qty
	}
	rec.MinStockLevel = parseOptionalInt(verr, "min_stock_level", r.MinStockLevel)
	rec.MaxStockLevel = parseOptionalInt(verr, "max_stock_level", r.MaxStockLevel)
	if r.ExpirationDate != "" {
		exp, err := utils.ParseDate(r.ExpirationDate)
		if err != nil {
			verr.Add("expiration_date", "must be a date in MM/DD/YYYY format")
		} else {
			rec.ExpirationDate = &exp
		}
	}
	return rec, verr
}

// validate applies the row rules shared by imports and corrections.
func (c *CorrectedRecord) validate(verr *utils.ValidationError) {
	if strings.TrimSpace(c.ItemName) == "" {
		verr.Add("item_name", "is required")
	}
	if !c.UnitCost.IsPositive() {
		verr.Add("unit_cost", "must be greater than zero")
	}
	if !c.UnitPrice.IsPositive() {
		verr.Add("unit_price", "must be greater than zero")
	}
	if c.Quantity.IsNegative() {
		verr.Add("quantity", "must not be negative")
	}
	if c.MeasurementType != "" {
		if _, err := ParseMeasurementType(c.MeasurementType); err != nil {
			verr.Add("measurement_type", "must be count or weight")
		}
	}
	if c.Status != "" {
		if _, err := ParseItemStatus(c.Status); err != nil {
			verr.Add("status", "must be Active or Inactive")
		}
	}
	if c.Quantity.IsPositive() && c.ExpirationDate != nil && utils.BeforeToday(*c.ExpirationDate) {
		verr.Add("expiration_date", "must not be in the past")
	}
}

func (c *CorrectedRecord) record() InventoryRecord {
	rec := InventoryRecord{
		ItemName:        c.ItemName,
		UnitCost:        c.UnitCost.String(),
		UnitPrice:       c.UnitPrice.String(),
		Quantity:        c.Quantity.String(),
		Barcode:         c.Barcode,
		ProductCategory: c.ProductCategory,
		MeasurementType: c.MeasurementType,
		Status:          c.Status,
	}
	if c.MinStockLevel != nil {
		rec.MinStockLevel = strconv.Itoa(*c.MinStockLevel)
	}
	if c.MaxStockLevel != nil {
		rec.MaxStockLevel = strconv.Itoa(*c.MaxStockLevel)
	}
	if c.ExpirationDate != nil {
		rec.ExpirationDate = c.ExpirationDate.Format("01/02/2006")
	}
	return rec
}

// applyRow upserts one valid row in its own transaction. New items, and items
// with no batches yet, get an opening batch for the imported quantity so their
// on-hand quantity and cost stay derived from batches.
func applyRow(ctx context.Context, key ItemKey, c *CorrectedRecord) (bool, error) {
	input := NewInventoryItem{
		Name:            c.ItemName,
		Barcode:         c.Barcode,
		UnitPrice:       &c.UnitPrice,
		MinStockLevel:   c.MinStockLevel,
		MaxStockLevel:   c.MaxStockLevel,
		Category:        c.ProductCategory,
		MeasurementType: c.MeasurementType,
		Status:          c.Status,
	}
	created := false
	itemId := 0
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, isNew, err := upsertInventoryItemTx(tx, key, &input)
		if err != nil {
			return err
		}
		created = isNew
		itemId = item.ID

		var batchCount int64
		if err := tx.Model(&Batch{}).Where("inventory_item_id = ?", item.ID).Count(&batchCount).Error; err != nil {
			return err
		}
		if batchCount > 0 {
			return nil
		}
		if !c.Quantity.IsPositive() {
			// nothing on hand; keep the imported cost as the starting average
			return tx.Model(&InventoryItem{}).Where("id = ?", item.ID).Update("unit_cost", c.UnitCost).Error
		}
		expiration := c.ExpirationDate
		if expiration == nil {
			exp := utils.Today().AddDate(0, 0, config.ReceivingDefaultExpiryDays())
			expiration = &exp
		}
		_, err = recordBatchTx(tx, &Batch{
			InventoryItemId: item.ID,
			Quantity:        c.Quantity,
			UnitCost:        c.UnitCost,
			UnitPrice:       c.UnitPrice,
			ExpirationDate:  expiration,
		})
		return err
	})
	if err != nil {
		return false, err
	}
	invalidateItemCache(itemId)
	return created, nil
}

func rowError(err error) map[string]string {
	var verr *utils.ValidationError
	if errors.As(err, &verr) {
		return verr.Fields
	}
	return map[string]string{"row": err.Error()}
}

// ImportInventoryRecords upserts every valid row by barcode, or by name when the
// row has no barcode. Invalid rows are returned for correction; valid rows commit
// independently of each other.
func ImportInventoryRecords(ctx context.Context, records []InventoryRecord) (*ImportResult, error) {
	logger := config.GetLogger()
	result := ImportResult{}
	for i, rec := range records {
		row := i + 2 // header is row 1
		typed, verr := rec.typed(row)
		typed.validate(verr)
		if verr.HasErrors() {
			result.Invalid = append(result.Invalid, InvalidRecord{Row: row, Record: rec, Errors: verr.Fields})
			metrics.ImportRows.WithLabelValues("invalid").Inc()
			continue
		}

		key := ItemKeyBarcode
		if strings.TrimSpace(typed.Barcode) == "" {
			key = ItemKeyName
		}
		created, err := applyRow(ctx, key, &typed)
		if err != nil {
			config.LogError(logger, "InventoryImport", "ImportInventoryRecords", "apply row", row, err)
			result.Invalid = append(result.Invalid, InvalidRecord{Row: row, Record: rec, Errors: rowError(err)})
			metrics.ImportRows.WithLabelValues("failed").Inc()
			continue
		}
		result.Imported++
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		metrics.ImportRows.WithLabelValues("imported").Inc()
	}
	return &result, nil
}

// ApplyCorrections re-validates corrected rows and upserts them by item name.
// Rows that are still wrong come back as invalid again.
func ApplyCorrections(ctx context.Context, corrections []CorrectedRecord) (*ImportResult, error) {
	logger := config.GetLogger()
	result := ImportResult{}
	for i := range corrections {
		c := corrections[i]
		verr := utils.NewValidationError()
		c.validate(verr)
		if verr.HasErrors() {
			result.Invalid = append(result.Invalid, InvalidRecord{Row: c.Row, Record: c.record(), Errors: verr.Fields})
			metrics.ImportRows.WithLabelValues("invalid").Inc()
			continue
		}
		created, err := applyRow(ctx, ItemKeyName, &c)
		if err != nil {
			config.LogError(logger, "InventoryImport", "ApplyCorrections", "apply correction", c.Row, err)
			result.Invalid = append(result.Invalid, InvalidRecord{Row: c.Row, Record: c.record(), Errors: rowError(err)})
			metrics.ImportRows.WithLabelValues("failed").Inc()
			continue
		}
		result.Imported++
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		metrics.ImportRows.WithLabelValues("corrected").Inc()
	}
	return &result, nil
}

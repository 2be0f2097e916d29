package models

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/xuri/excelize/v2"
)

var exportHeaders = []string{
	"Item ID", "Name", "Cost", "Price", "Quantity", "Barcode",
	"Min Level", "Max Level", "Category", "Measurement Type", "Status", "Expiration Date",
}

// ExportInventoryRecords renders every item as a text row. The expiration column
// carries the item's nearest batch expiry.
func ExportInventoryRecords(ctx context.Context) ([]InventoryRecord, error) {
	items, err := ListInventoryItems(ctx, InventoryItemFilter{})
	if err != nil {
		return nil, err
	}
	expiries, err := nearestExpiry(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]InventoryRecord, 0, len(items))
	for _, item := range items {
		rec := InventoryRecord{
			ItemId:          strconv.Itoa(item.ID),
			ItemName:        item.Name,
			UnitCost:        item.UnitCost.StringFixed(2),
			UnitPrice:       item.UnitPrice.StringFixed(2),
			Quantity:        item.Quantity.String(),
			Barcode:         utils.DereferencePtr(item.Barcode),
			MinStockLevel:   strconv.Itoa(item.MinStockLevel),
			MaxStockLevel:   strconv.Itoa(item.MaxStockLevel),
			ProductCategory: item.Category,
			MeasurementType: string(item.MeasurementType),
			Status:          string(item.Status),
		}
		if exp, ok := expiries[item.ID]; ok {
			rec.ExpirationDate = exp.Format("01/02/2006")
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r InventoryRecord) exportRow() []string {
	return []string{
		r.ItemId, r.ItemName, r.UnitCost, r.UnitPrice, r.Quantity, r.Barcode,
		r.MinStockLevel, r.MaxStockLevel, r.ProductCategory, r.MeasurementType, r.Status, r.ExpirationDate,
	}
}

func (r InventoryRecord) templateRow() []string {
	return []string{
		r.ItemName, r.UnitCost, r.UnitPrice, r.Quantity, r.Barcode,
		r.MinStockLevel, r.MaxStockLevel, r.ProductCategory, r.MeasurementType, r.Status, r.ExpirationDate,
	}
}

func WriteInventoryCSV(ctx context.Context, w io.Writer) error {
	records, err := ExportInventoryRecords(ctx)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeaders); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writer.Write(rec.exportRow()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

const inventorySheet = "Inventory"

func writeSheet(w io.Writer, headers []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", inventorySheet); err != nil {
		return err
	}
	// barcodes must stay text or leading zeros are lost
	textStyle, err := f.NewStyle(&excelize.Style{NumFmt: 49})
	if err != nil {
		return err
	}
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(inventorySheet, cell, h); err != nil {
			return err
		}
	}
	for i, row := range rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if strings.HasPrefix(headers[col], "Barcode") {
				if err := f.SetCellStyle(inventorySheet, cell, cell, textStyle); err != nil {
					return err
				}
			}
			if err := f.SetCellStr(inventorySheet, cell, v); err != nil {
				return err
			}
		}
	}
	return f.Write(w)
}

// WriteInventoryXLSX writes the items in the labelled import layout, so the
// file can be edited and uploaded again.
func WriteInventoryXLSX(ctx context.Context, w io.Writer) error {
	records, err := ExportInventoryRecords(ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.templateRow())
	}
	return writeSheet(w, ImportTemplateHeaders, rows)
}

// WriteImportTemplateXLSX writes an empty import workbook.
func WriteImportTemplateXLSX(w io.Writer) error {
	return writeSheet(w, ImportTemplateHeaders, nil)
}

// WriteInvalidRecordsXLSX writes rejected import rows with their problems in a
// trailing column.
func WriteInvalidRecordsXLSX(w io.Writer, invalid []InvalidRecord) error {
	headers := append(append([]string{}, ImportTemplateHeaders...), "Errors")
	rows := make([][]string, 0, len(invalid))
	for _, inv := range invalid {
		keys := make([]string, 0, len(inv.Errors))
		for k := range inv.Errors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		problems := make([]string, 0, len(keys))
		for _, k := range keys {
			problems = append(problems, k+" "+inv.Errors[k])
		}
		rows = append(rows, append(inv.Record.templateRow(), strings.Join(problems, "; ")))
	}
	return writeSheet(w, headers, rows)
}

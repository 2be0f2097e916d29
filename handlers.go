package main

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/models"
	"bitbucket.org/mmdatafocus/stockroom_backend/utils"
	"github.com/gin-gonic/gin"
)

// respondError maps the model error kinds onto status codes. Anything unknown is
// logged and reported as a 500 without its message.
func respondError(c *gin.Context, err error) {
	var verr *utils.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, utils.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrConcurrency):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func respond(c *gin.Context, status int, obj any, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, obj)
}

func paramId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		respondError(c, utils.ValidationFailed(name, "must be a positive integer"))
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		respondError(c, utils.ValidationFailed("body", err.Error()))
		return false
	}
	return true
}

func registerRoutes(r gin.IRouter) {
	items := r.Group("/items")
	items.GET("", listItemsHandler)
	items.POST("", upsertItemHandler)
	items.GET("/search", searchItemsHandler)
	items.GET("/low-stock", lowStockHandler)
	items.GET("/issues", itemIssuesHandler)
	items.GET("/:id", getItemHandler)
	items.DELETE("/:id", deleteItemHandler)
	items.POST("/:id/activate", itemStatusHandler(models.ActivateInventoryItem))
	items.POST("/:id/deactivate", itemStatusHandler(models.DeactivateInventoryItem))
	items.GET("/:id/batches", listBatchesHandler)
	items.POST("/:id/batches", recordBatchHandler)
	items.GET("/:id/history", historyHandler("inventory_items"))

	inventory := r.Group("/inventory")
	inventory.POST("/import", importInventoryHandler)
	inventory.POST("/corrections", applyCorrectionsHandler)
	inventory.GET("/export", exportInventoryHandler)
	inventory.GET("/template", importTemplateHandler)

	vendors := r.Group("/vendors")
	vendors.GET("", searchVendorsHandler)
	vendors.POST("", createVendorHandler)
	vendors.GET("/:id", getVendorHandler)
	vendors.PUT("/:id", updateVendorHandler)
	vendors.DELETE("/:id", deleteVendorHandler)
	vendors.POST("/:id/activate", toggleVendorHandler(true))
	vendors.POST("/:id/deactivate", toggleVendorHandler(false))
	vendors.GET("/:id/items", listVendorItemsHandler)
	vendors.GET("/:id/items/:itemId/last-cost", lastUnitCostHandler)
	vendors.GET("/:id/history", historyHandler("vendors"))
	r.POST("/vendor-items", upsertVendorItemHandler)

	orders := r.Group("/purchase-orders")
	orders.GET("", listPurchaseOrdersHandler)
	orders.POST("", createPurchaseOrderHandler)
	orders.GET("/overdue", overduePurchaseOrdersHandler)
	orders.GET("/by-number/:number", purchaseOrderByNumberHandler)
	orders.GET("/:id", getPurchaseOrderHandler)
	orders.PUT("/:id", updatePurchaseOrderHandler)
	orders.DELETE("/:id", deletePurchaseOrderHandler)
	orders.POST("/:id/transition", transitionPurchaseOrderHandler)
	orders.POST("/:id/recalculate", recalculatePurchaseOrderHandler)
	orders.POST("/:id/lines", addLineItemHandler)
	orders.POST("/:id/receive", receivePurchaseOrderHandler)
	orders.GET("/:id/receiving-logs", receivingLogsHandler)
	orders.GET("/:id/receiving-summary", receivingSummaryHandler)
	orders.GET("/:id/history", historyHandler("purchase_orders"))
	r.PUT("/purchase-order-lines/:lineId", updateLineItemHandler)
	r.DELETE("/purchase-order-lines/:lineId", removeLineItemHandler)

	r.GET("/customers", listCustomersHandler)
	r.POST("/customers", createCustomerHandler)
	r.GET("/customers/:id", getCustomerHandler)

	r.GET("/sales", listSalesHandler)
	r.POST("/sales", createSaleHandler)
	r.GET("/sales/:id", getSaleHandler)
}

// items

func listItemsHandler(c *gin.Context) {
	var filter models.InventoryItemFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondError(c, utils.ValidationFailed("query", err.Error()))
		return
	}
	results, err := models.ListInventoryItems(c.Request.Context(), filter)
	respond(c, http.StatusOK, results, err)
}

// upsertItemHandler matches on barcode unless ?key=name is given.
func upsertItemHandler(c *gin.Context) {
	var input models.NewInventoryItem
	if !bindJSON(c, &input) {
		return
	}
	key := models.ItemKeyBarcode
	if strings.EqualFold(c.Query("key"), string(models.ItemKeyName)) {
		key = models.ItemKeyName
	}
	item, err := models.UpsertInventoryItem(c.Request.Context(), key, &input)
	respond(c, http.StatusOK, item, err)
}

func searchItemsHandler(c *gin.Context) {
	results, err := models.SearchInventoryItems(c.Request.Context(), c.Query("q"))
	respond(c, http.StatusOK, results, err)
}

func lowStockHandler(c *gin.Context) {
	results, err := models.ListLowStockItems(c.Request.Context())
	respond(c, http.StatusOK, results, err)
}

func itemIssuesHandler(c *gin.Context) {
	results, err := models.ListItemsWithIssues(c.Request.Context())
	respond(c, http.StatusOK, results, err)
}

func getItemHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	item, err := models.GetInventoryItem(c.Request.Context(), id)
	respond(c, http.StatusOK, item, err)
}

func deleteItemHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	item, err := models.DeleteInventoryItem(c.Request.Context(), id)
	respond(c, http.StatusOK, item, err)
}

func itemStatusHandler(fn func(context.Context, int) (*models.InventoryItem, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		item, err := fn(c.Request.Context(), id)
		respond(c, http.StatusOK, item, err)
	}
}

func listBatchesHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	results, err := models.ListItemBatches(c.Request.Context(), id)
	respond(c, http.StatusOK, results, err)
}

func recordBatchHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var input models.NewBatch
	if !bindJSON(c, &input) {
		return
	}
	batch, err := models.RecordBatch(c.Request.Context(), id, &input)
	respond(c, http.StatusCreated, batch, err)
}

func historyHandler(referenceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		results, err := models.ListHistories(c.Request.Context(), referenceType, id)
		respond(c, http.StatusOK, results, err)
	}
}

// bulk import / export

// importInventoryHandler reads a multipart "file" field. Files ending in .xlsx
// are read as workbooks, everything else as CSV.
func importInventoryHandler(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, utils.ValidationFailed("file", "is required"))
		return
	}
	f, err := header.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	var records []models.InventoryRecord
	if strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") {
		records, err = models.ReadInventoryXLSX(f)
	} else {
		records, err = models.ReadInventoryCSV(f)
	}
	if err != nil {
		respondError(c, utils.ValidationFailed("file", err.Error()))
		return
	}
	result, err := models.ImportInventoryRecords(c.Request.Context(), records)
	respond(c, http.StatusOK, result, err)
}

func applyCorrectionsHandler(c *gin.Context) {
	var input []models.CorrectedRecord
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.ApplyCorrections(c.Request.Context(), input)
	respond(c, http.StatusOK, result, err)
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func exportInventoryHandler(c *gin.Context) {
	ctx := c.Request.Context()
	if strings.EqualFold(c.Query("format"), "xlsx") {
		c.Header("Content-Type", xlsxContentType)
		c.Header("Content-Disposition", `attachment; filename="inventory.xlsx"`)
		if err := models.WriteInventoryXLSX(ctx, c.Writer); err != nil {
			config.LogError(config.GetLogger(), "handlers", "exportInventoryHandler", "write xlsx", nil, err)
			c.Status(http.StatusInternalServerError)
		}
		return
	}
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="inventory.csv"`)
	if err := models.WriteInventoryCSV(ctx, c.Writer); err != nil {
		config.LogError(config.GetLogger(), "handlers", "exportInventoryHandler", "write csv", nil, err)
		c.Status(http.StatusInternalServerError)
	}
}

func importTemplateHandler(c *gin.Context) {
	c.Header("Content-Type", xlsxContentType)
	c.Header("Content-Disposition", `attachment; filename="inventory_template.xlsx"`)
	if err := models.WriteImportTemplateXLSX(c.Writer); err != nil {
		config.LogError(config.GetLogger(), "handlers", "importTemplateHandler", "write template", nil, err)
		c.Status(http.StatusInternalServerError)
	}
}

// vendors

func searchVendorsHandler(c *gin.Context) {
	results := make([]*models.Vendor, 0)
	for vendor, err := range models.SearchVendors(c.Request.Context(), c.Query("q")) {
		if err != nil {
			respondError(c, err)
			return
		}
		results = append(results, vendor)
	}
	c.JSON(http.StatusOK, results)
}

func createVendorHandler(c *gin.Context) {
	var input models.NewVendor
	if !bindJSON(c, &input) {
		return
	}
	vendor, err := models.CreateVendor(c.Request.Context(), &input)
	respond(c, http.StatusCreated, vendor, err)
}

func getVendorHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	vendor, err := models.GetVendor(c.Request.Context(), id)
	respond(c, http.StatusOK, vendor, err)
}

func updateVendorHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var input models.NewVendor
	if !bindJSON(c, &input) {
		return
	}
	vendor, err := models.UpdateVendor(c.Request.Context(), id, &input)
	respond(c, http.StatusOK, vendor, err)
}

func deleteVendorHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	vendor, err := models.DeleteVendor(c.Request.Context(), id)
	respond(c, http.StatusOK, vendor, err)
}

func toggleVendorHandler(isActive bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramId(c, "id")
		if !ok {
			return
		}
		vendor, err := models.ToggleActiveVendor(c.Request.Context(), id, isActive)
		respond(c, http.StatusOK, vendor, err)
	}
}

func listVendorItemsHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	results, err := models.ListVendorItems(c.Request.Context(), id)
	respond(c, http.StatusOK, results, err)
}

func lastUnitCostHandler(c *gin.Context) {
	vendorId, ok := paramId(c, "id")
	if !ok {
		return
	}
	itemId, ok := paramId(c, "itemId")
	if !ok {
		return
	}
	cost, err := models.LastUnitCost(c.Request.Context(), vendorId, itemId)
	respond(c, http.StatusOK, gin.H{"unit_cost": cost}, err)
}

func upsertVendorItemHandler(c *gin.Context) {
	var input models.NewVendorItem
	if !bindJSON(c, &input) {
		return
	}
	link, err := models.UpsertVendorItem(c.Request.Context(), &input)
	respond(c, http.StatusOK, link, err)
}

// purchase orders

func listPurchaseOrdersHandler(c *gin.Context) {
	var filter models.PurchaseOrderFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondError(c, utils.ValidationFailed("query", err.Error()))
		return
	}
	results, err := models.ListPurchaseOrders(c.Request.Context(), filter)
	respond(c, http.StatusOK, results, err)
}

func createPurchaseOrderHandler(c *gin.Context) {
	var input models.NewPurchaseOrder
	if !bindJSON(c, &input) {
		return
	}
	po, err := models.CreatePurchaseOrder(c.Request.Context(), &input)
	respond(c, http.StatusCreated, po, err)
}

func overduePurchaseOrdersHandler(c *gin.Context) {
	results, err := models.ListOverduePurchaseOrders(c.Request.Context())
	respond(c, http.StatusOK, results, err)
}

func purchaseOrderByNumberHandler(c *gin.Context) {
	po, err := models.FindPurchaseOrderByNumber(c.Request.Context(), c.Param("number"))
	respond(c, http.StatusOK, po, err)
}

func getPurchaseOrderHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	po, err := models.GetPurchaseOrder(c.Request.Context(), id)
	respond(c, http.StatusOK, po, err)
}

func updatePurchaseOrderHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var input models.UpdatePurchaseOrderInput
	if !bindJSON(c, &input) {
		return
	}
	po, err := models.UpdatePurchaseOrder(c.Request.Context(), id, &input)
	respond(c, http.StatusOK, po, err)
}

func deletePurchaseOrderHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	po, err := models.DeletePurchaseOrder(c.Request.Context(), id)
	respond(c, http.StatusOK, po, err)
}

type transitionInput struct {
	Status string `json:"status"`
}

func transitionPurchaseOrderHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var input transitionInput
	if !bindJSON(c, &input) {
		return
	}
	target, err := models.ParsePurchaseOrderStatus(input.Status)
	if err != nil {
		respondError(c, utils.ValidationFailed("status", err.Error()))
		return
	}
	po, err := models.TransitionPurchaseOrder(c.Request.Context(), id, target)
	respond(c, http.StatusOK, po, err)
}

func recalculatePurchaseOrderHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	po, err := models.RecalculateTotals(c.Request.Context(), id)
	respond(c, http.StatusOK, po, err)
}

func addLineItemHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var input models.NewPurchaseOrderItem
	if !bindJSON(c, &input) {
		return
	}
	line, err := models.AddLineItem(c.Request.Context(), id, &input)
	respond(c, http.StatusCreated, line, err)
}

func updateLineItemHandler(c *gin.Context) {
	id, ok := paramId(c, "lineId")
	if !ok {
		return
	}
	var input models.NewPurchaseOrderItem
	if !bindJSON(c, &input) {
		return
	}
	line, err := models.UpdateLineItem(c.Request.Context(), id, &input)
	respond(c, http.StatusOK, line, err)
}

func removeLineItemHandler(c *gin.Context) {
	id, ok := paramId(c, "lineId")
	if !ok {
		return
	}
	line, err := models.RemoveLineItem(c.Request.Context(), id)
	respond(c, http.StatusOK, line, err)
}

func receivePurchaseOrderHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	var input models.NewReceiving
	if !bindJSON(c, &input) {
		return
	}
	result, err := models.ReceivePurchaseOrder(c.Request.Context(), id, &input)
	respond(c, http.StatusOK, result, err)
}

func receivingLogsHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	results, err := models.ListReceivingLogs(c.Request.Context(), id)
	respond(c, http.StatusOK, results, err)
}

func receivingSummaryHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	summary, err := models.ReceivingSummary(c.Request.Context(), id)
	respond(c, http.StatusOK, summary, err)
}

// customers and sales

func listCustomersHandler(c *gin.Context) {
	activeOnly := strings.EqualFold(c.Query("active"), "true")
	results, err := models.ListCustomers(c.Request.Context(), activeOnly)
	respond(c, http.StatusOK, results, err)
}

func createCustomerHandler(c *gin.Context) {
	var input models.NewCustomer
	if !bindJSON(c, &input) {
		return
	}
	customer, err := models.CreateCustomer(c.Request.Context(), &input)
	respond(c, http.StatusCreated, customer, err)
}

func getCustomerHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	customer, err := models.GetCustomer(c.Request.Context(), id)
	respond(c, http.StatusOK, customer, err)
}

func listSalesHandler(c *gin.Context) {
	var filter models.SaleFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		respondError(c, utils.ValidationFailed("query", err.Error()))
		return
	}
	results, err := models.ListSales(c.Request.Context(), filter)
	respond(c, http.StatusOK, results, err)
}

func createSaleHandler(c *gin.Context) {
	var input models.NewSale
	if !bindJSON(c, &input) {
		return
	}
	sale, err := models.CreateSale(c.Request.Context(), &input)
	respond(c, http.StatusCreated, sale, err)
}

func getSaleHandler(c *gin.Context) {
	id, ok := paramId(c, "id")
	if !ok {
		return
	}
	sale, err := models.GetSale(c.Request.Context(), id)
	respond(c, http.StatusOK, sale, err)
}

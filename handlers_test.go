package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
	"bitbucket.org/mmdatafocus/stockroom_backend/middlewares"
	"bitbucket.org/mmdatafocus/stockroom_backend/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	t.Setenv("REDIS_ADDRESS", "")
	t.Setenv("RATE_LIMIT_ENABLED", "")

	config.DisconnectRedis()
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	t.Cleanup(config.CloseDatabase)

	return newRouter(config.GetLogger())
}

func doJSON(t *testing.T, r http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Name", "clerk")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

var vendorBody = map[string]any{
	"company_name":  "Acme Produce",
	"email":         "orders@example.com",
	"phone":         "(201) 555-0123",
	"address_line1": "1 Main St",
	"city":          "Springfield",
	"state":         "NJ",
	"zip_code":      "07081",
}

func TestHealthzWithoutDatabase(t *testing.T) {
	gin.SetMode(gin.TestMode)
	config.CloseDatabase()
	r := newRouter(config.GetLogger())

	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodGet, "/api/items", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the database is up, got %d", w.Code)
	}
}

func TestVendorEndpoints(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/vendors", vendorBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	vendor := decodeBody[models.Vendor](t, w)
	if vendor.VendorCode != "VEN-0001" {
		t.Fatalf("expected VEN-0001, got %s", vendor.VendorCode)
	}
	if w.Header().Get(middlewares.CorrelationHeader) == "" {
		t.Fatalf("expected a correlation id on the response")
	}

	w = doJSON(t, r, http.MethodPost, "/api/vendors", map[string]any{"email": "nope"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	failed := decodeBody[struct {
		Fields map[string]string `json:"fields"`
	}](t, w)
	for _, field := range []string{"company_name", "email", "address_line1", "city", "state", "zip_code"} {
		if _, ok := failed.Fields[field]; !ok {
			t.Fatalf("expected %s in %v", field, failed.Fields)
		}
	}

	w = doJSON(t, r, http.MethodGet, "/api/vendors?q=acme", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if found := decodeBody[[]models.Vendor](t, w); len(found) != 1 {
		t.Fatalf("expected 1 vendor, got %d", len(found))
	}

	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/vendors/%d/history", vendor.ID), nil)
	histories := decodeBody[[]models.History](t, w)
	if len(histories) != 1 || histories[0].UserName != "clerk" {
		t.Fatalf("expected one history row by clerk, got %+v", histories)
	}

	w = doJSON(t, r, http.MethodGet, "/api/vendors/abc", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a bad id, got %d", w.Code)
	}
}

func TestItemEndpoints(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/items/42", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/items?key=name", map[string]any{"name": "rice", "unit_price": "2.5"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	item := decodeBody[models.InventoryItem](t, w)
	if item.Name != "RICE" {
		t.Fatalf("expected RICE, got %s", item.Name)
	}

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/items/%d/batches", item.ID), map[string]any{"quantity": "4", "unit_cost": "1.5"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/api/items/%d", item.ID), nil)
	stored := decodeBody[models.InventoryItem](t, w)
	if stored.Quantity.String() != "4" || stored.UnitCost.String() != "1.5" {
		t.Fatalf("expected 4 @ 1.5, got %s @ %s", stored.Quantity, stored.UnitCost)
	}

	w = doJSON(t, r, http.MethodGet, "/api/items/search?q=ric", nil)
	if found := decodeBody[[]models.InventoryItem](t, w); len(found) != 1 {
		t.Fatalf("expected 1 search hit, got %d", len(found))
	}
}

func TestPurchaseOrderEndpoints(t *testing.T) {
	r := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/vendors", vendorBody)
	vendor := decodeBody[models.Vendor](t, w)
	w = doJSON(t, r, http.MethodPost, "/api/items", map[string]any{"name": "Flour", "barcode": "100", "unit_price": "5"})
	item := decodeBody[models.InventoryItem](t, w)

	w = doJSON(t, r, http.MethodPost, "/api/purchase-orders", map[string]any{
		"vendor_id": vendor.ID,
		"items": []map[string]any{
			{"inventory_item_id": item.ID, "quantity": "2", "unit_cost": "10"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	po := decodeBody[models.PurchaseOrder](t, w)
	if po.OrderNumber != "PO-0001" || po.TotalCost.String() != "20" {
		t.Fatalf("unexpected order %s total %s", po.OrderNumber, po.TotalCost)
	}

	path := fmt.Sprintf("/api/purchase-orders/%d/transition", po.ID)
	w = doJSON(t, r, http.MethodPost, path, map[string]string{"status": "CLOSED"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for DRAFT -> CLOSED, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, path, map[string]string{"status": "SHIPPED"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for an unknown status, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, path, map[string]string{"status": "submitted"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, fmt.Sprintf("/api/purchase-orders/%d/receive", po.ID), map[string]any{
		"lines": []map[string]any{
			{"purchase_order_item_id": po.Items[0].ID, "received_quantity": "2", "is_accepted": true},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/api/purchase-orders/by-number/po-1", nil)
	found := decodeBody[models.PurchaseOrder](t, w)
	if found.ID != po.ID || found.Status != models.PurchaseOrderStatusReceived {
		t.Fatalf("expected received order %d, got %+v", po.ID, found)
	}

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/purchase-orders/%d", po.ID), nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 deleting a received order, got %d", w.Code)
	}
}

func TestImportAndExportEndpoints(t *testing.T) {
	r := setupRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "inventory.csv")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("name,cost,price,qty,barcode\nTea,1,2,3,900\n,1,2,3,901\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/inventory/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	result := decodeBody[models.ImportResult](t, w)
	if result.Imported != 1 || len(result.Invalid) != 1 || result.Invalid[0].Row != 3 {
		t.Fatalf("unexpected import result %+v", result)
	}

	w = doJSON(t, r, http.MethodGet, "/api/inventory/export", nil)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Body.String(), "Item ID,Name,") {
		t.Fatalf("unexpected export %d: %q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "TEA") {
		t.Fatalf("export missing TEA: %q", w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/api/inventory/import", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without a file, got %d", w.Code)
	}
}

func TestSessionTokenLookup(t *testing.T) {
	r := setupRouter(t)
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_ADDRESS", mr.Addr())
	t.Setenv("REDIS_CONNECT_ATTEMPTS", "1")
	config.ConnectRedisWithRetry()
	t.Cleanup(config.DisconnectRedis)
	if err := mr.Set("Token:abc", "manager"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	send := func(token string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		json.NewEncoder(&buf).Encode(map[string]any{"first_name": "Ada", "last_name": "Lovelace"})
		req := httptest.NewRequest(http.MethodPost, "/api/customers", &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("token", token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := send("wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an unknown token, got %d", w.Code)
	}
	w := send("abc")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	customer := decodeBody[models.Customer](t, w)
	histories, err := models.ListHistories(context.Background(), "customers", customer.ID)
	if err != nil {
		t.Fatalf("ListHistories: %v", err)
	}
	if len(histories) != 1 || histories[0].UserName != "manager" {
		t.Fatalf("expected history by manager, got %+v", histories)
	}
}

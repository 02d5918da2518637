package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"finapi/models"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	// allow callers to pass nil for body safely
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T) *gin.Engine {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	decimal.MarshalJSONWithoutQuotes = true
	jwtSecret = []byte("test-secret")
	// generous quotas so the flow below never trips the limiter
	_ = os.Setenv("RATE_API_QUOTA", "1000")
	initLimits()
	initDB()
	r := gin.Default()
	setupRoutes(r)
	return r
}

func registerAndLogin(t *testing.T, r *gin.Engine, username, password string) string {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp := performRequest(r, http.MethodPost, "/register", bytes.NewBuffer(body), "", "application/json")
	if resp.Code != 200 && resp.Code != 409 {
		t.Fatalf("register failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodPost, "/login", bytes.NewBuffer(body), "", "application/json")
	if resp.Code != 200 {
		t.Fatalf("login failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}
	return token
}

func uploadCSV(t *testing.T, r *gin.Engine, token, csvBody string) *httptest.ResponseRecorder {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	w, _ := mw.CreateFormFile("file", "transactions.csv")
	_, _ = w.Write([]byte(csvBody))
	_ = mw.Close()
	return performRequest(r, http.MethodPost, "/imports/dry-run", buf, token, mw.FormDataContentType())
}

func TestImportFlow(t *testing.T) {
	r := setupTestServer(t)
	token := registerAndLogin(t, r, "importer1", "pass123")

	// 1. Create the category the CSV references
	catBody, _ := json.Marshal(map[string]string{"name": "Mercado"})
	resp := performRequest(r, http.MethodPost, "/categories", bytes.NewBuffer(catBody), token, "application/json")
	if resp.Code != 200 && resp.Code != 409 {
		t.Fatalf("create category failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 2. Dry-run: 2 valid rows, 1 zero value, 1 missing description + unknown category
	csvBody := "date,type,value,description,notes,category\n" +
		"2026-01-05,Entrada,1000,Salario,,\n" +
		"2026-01-06,Saida,\"220,50\",Compras,,Mercado\n" +
		"2026-01-07,Saida,0,Padaria,,Mercado\n" +
		"2026-01-08,Saida,50,,,Desconhecida\n"
	resp = uploadCSV(t, r, token, csvBody)
	if resp.Code != 200 {
		t.Fatalf("dry-run failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var dry struct {
		ImportID string `json:"importId"`
		Summary  struct {
			TotalRows   int     `json:"totalRows"`
			ValidRows   int     `json:"validRows"`
			InvalidRows int     `json:"invalidRows"`
			Income      float64 `json:"income"`
			Expense     float64 `json:"expense"`
		} `json:"summary"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &dry)
	if dry.ImportID == "" {
		t.Fatalf("missing importId: %s", resp.Body.String())
	}
	if dry.Summary.TotalRows != 4 || dry.Summary.ValidRows != 2 || dry.Summary.InvalidRows != 2 {
		t.Fatalf("unexpected dry-run summary: %+v", dry.Summary)
	}
	if dry.Summary.Income != 1000 || dry.Summary.Expense != 220.5 {
		t.Fatalf("unexpected dry-run totals: %+v", dry.Summary)
	}

	// 3. Commit
	resp = performRequest(r, http.MethodPost, "/imports/"+dry.ImportID+"/commit", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("commit failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var commit struct {
		Imported int `json:"imported"`
		Summary  struct {
			Income  float64 `json:"income"`
			Expense float64 `json:"expense"`
			Balance float64 `json:"balance"`
		} `json:"summary"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &commit)
	if commit.Imported != 2 {
		t.Fatalf("expected 2 imported got %d (%s)", commit.Imported, resp.Body.String())
	}
	if commit.Summary.Income != 1000 || commit.Summary.Expense != 220.5 || commit.Summary.Balance != 779.5 {
		t.Fatalf("unexpected commit summary: %+v", commit.Summary)
	}

	// 4. Second commit must report the conflict, not double-insert
	resp = performRequest(r, http.MethodPost, "/imports/"+dry.ImportID+"/commit", nil, token, "")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 on recommit got %d body=%s", resp.Code, resp.Body.String())
	}

	// 5. Another user committing this session sees 404, same as a bogus id
	otherToken := registerAndLogin(t, r, "importer2", "pass123")
	resp = performRequest(r, http.MethodPost, "/imports/"+dry.ImportID+"/commit", nil, otherToken, "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign session got %d body=%s", resp.Code, resp.Body.String())
	}

	// 6. Malformed importId
	resp = performRequest(r, http.MethodPost, "/imports/not-a-uuid/commit", nil, token, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed importId got %d body=%s", resp.Code, resp.Body.String())
	}

	// 7. Session listing and metrics
	resp = performRequest(r, http.MethodGet, "/imports?limit=10", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("list imports failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/imports/metrics", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("import metrics failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 8. Bad header is a structural 400
	resp = uploadCSV(t, r, token, "date,amount\n2026-01-05,10\n")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad header got %d body=%s", resp.Code, resp.Body.String())
	}

	// 9. Invalid pagination
	resp = performRequest(r, http.MethodGet, "/imports?limit=500", nil, token, "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid pagination got %d body=%s", resp.Code, resp.Body.String())
	}

	// 10. Unauthorized access
	resp = performRequest(r, http.MethodGet, "/imports", nil, "", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func dryRunImportID(t *testing.T, r *gin.Engine, token, csvBody string) string {
	resp := uploadCSV(t, r, token, csvBody)
	if resp.Code != 200 {
		t.Fatalf("dry-run failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var dry struct {
		ImportID string `json:"importId"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &dry)
	if dry.ImportID == "" {
		t.Fatalf("missing importId: %s", resp.Body.String())
	}
	return dry.ImportID
}

func TestImportCommitExpired(t *testing.T) {
	r := setupTestServer(t)
	token := registerAndLogin(t, r, "expirer1", "pass123")

	csvBody := "date,type,value,description,notes,category\n" +
		"2026-03-01,Entrada,100,Deposito,,\n" +
		"2026-03-02,Saida,40,Almoco,,\n"
	importID := dryRunImportID(t, r, token, csvBody)

	// age the session past its deadline directly in the database
	if err := db.Model(&models.ImportSession{}).Where("id = ?", importID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error; err != nil {
		t.Fatalf("failed to expire session: %v", err)
	}

	resp := performRequest(r, http.MethodPost, "/imports/"+importID+"/commit", nil, token, "")
	if resp.Code != http.StatusGone {
		t.Fatalf("expected 410 for expired session got %d body=%s", resp.Code, resp.Body.String())
	}
	var rows int64
	if err := db.Model(&models.Transaction{}).Where("import_id = ?", importID).Count(&rows).Error; err != nil {
		t.Fatalf("count transactions failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expired commit must not insert transactions, found %d", rows)
	}
}

func TestImportDryRunTooLarge(t *testing.T) {
	r := setupTestServer(t)
	token := registerAndLogin(t, r, "bigfile1", "pass123")

	t.Setenv("IMPORT_MAX_BYTES", "1024")
	csvBody := "date,type,value,description,notes,category\n" +
		strings.Repeat("2026-03-01,Entrada,100,Deposito,,\n", 100)
	resp := uploadCSV(t, r, token, csvBody)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized file got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestImportCommitConcurrent(t *testing.T) {
	r := setupTestServer(t)
	token := registerAndLogin(t, r, "racer1", "pass123")

	csvBody := "date,type,value,description,notes,category\n" +
		"2026-03-01,Entrada,100,Deposito,,\n" +
		"2026-03-02,Saida,40,Almoco,,\n"
	importID := dryRunImportID(t, r, token, csvBody)

	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := performRequest(r, http.MethodPost, "/imports/"+importID+"/commit", nil, token, "")
			codes[i] = resp.Code
		}(i)
	}
	wg.Wait()

	ok, conflict := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusConflict:
			conflict++
		}
	}
	if ok != 1 || conflict != 1 {
		t.Fatalf("expected exactly one 200 and one 409, got %v", codes)
	}
	var rows int64
	if err := db.Model(&models.Transaction{}).Where("import_id = ?", importID).Count(&rows).Error; err != nil {
		t.Fatalf("count transactions failed: %v", err)
	}
	if rows != 2 {
		t.Fatalf("expected 2 imported transactions after racing commits, found %d", rows)
	}
}

func TestFinanceCRUDFlow(t *testing.T) {
	r := setupTestServer(t)
	token := registerAndLogin(t, r, "cruduser1", "pass123")

	catBody, _ := json.Marshal(map[string]string{"name": "Contas"})
	resp := performRequest(r, http.MethodPost, "/categories", bytes.NewBuffer(catBody), token, "application/json")
	if resp.Code != 200 && resp.Code != 409 {
		t.Fatalf("create category failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	// duplicate under normalization is rejected
	dupBody, _ := json.Marshal(map[string]string{"name": " CONTAS "})
	resp = performRequest(r, http.MethodPost, "/categories", bytes.NewBuffer(dupBody), token, "application/json")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate category got %d body=%s", resp.Code, resp.Body.String())
	}

	txBody, _ := json.Marshal(map[string]any{
		"type": "exit", "value": 99.9, "date": "2026-02-01", "description": "Conta de luz",
	})
	resp = performRequest(r, http.MethodPost, "/transactions", bytes.NewBuffer(txBody), token, "application/json")
	if resp.Code != 200 {
		t.Fatalf("create transaction failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/transactions", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("list transactions failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/analytics/trend", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("trend failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/billing/summary", nil, token, "")
	if resp.Code != 200 {
		t.Fatalf("billing summary failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	// free plan lacks csv_export
	resp = performRequest(r, http.MethodGet, "/transactions/export", nil, token, "")
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 for export on free plan got %d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/healthz", nil, "", "")
	if resp.Code != 200 {
		t.Fatalf("healthz failed status=%d body=%s", resp.Code, resp.Body.String())
	}
}

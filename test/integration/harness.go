// Package integration provides a reusable test harness for end-to-end
// integration testing of the GovFlow server. It starts a full HTTP server
// over the shipped seed data with in-memory stores by default.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/govflow/govflow/internal/access"
	"github.com/govflow/govflow/internal/auth"
	"github.com/govflow/govflow/internal/catalog"
	"github.com/govflow/govflow/internal/config"
	"github.com/govflow/govflow/internal/document"
	"github.com/govflow/govflow/internal/observability"
	"github.com/govflow/govflow/internal/seed"
	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/internal/transport"
	"github.com/govflow/govflow/internal/workflow"
)

// testSecret signs every token in the harness.
const testSecret = "integration-test-secret"

// TestHarness encapsulates a fully wired GovFlow instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server

	// Internal components exposed for advanced test scenarios.
	Stores  *store.Stores
	Engine  *workflow.Engine
	Metrics *observability.Metrics
	Config  *config.Config

	registry *prometheus.Registry
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	policyFile       string
	exposeResetToken bool
	handlerTimeout   time.Duration
	maxDocumentBytes int64
	resetTokens      auth.ResetTokenStore
	pool             *pgxpool.Pool
}

// WithPolicyFile sets the role policy file. Relative paths are resolved from
// the testdata directory.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.policyFile = path
	}
}

// WithExposeResetToken echoes reset tokens in forgot-password responses.
func WithExposeResetToken() HarnessOption {
	return func(c *harnessConfig) {
		c.exposeResetToken = true
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithMaxDocumentBytes caps uploaded documents.
func WithMaxDocumentBytes(n int64) HarnessOption {
	return func(c *harnessConfig) {
		c.maxDocumentBytes = n
	}
}

// WithResetTokenStore replaces the in-memory reset token store.
func WithResetTokenStore(s auth.ResetTokenStore) HarnessOption {
	return func(c *harnessConfig) {
		c.resetTokens = s
	}
}

// WithPostgres runs the harness on PostgreSQL when GOVFLOW_TEST_DATABASE_URL
// is set, and skips the test otherwise. Each harness starts from an empty
// records table.
func WithPostgres(t *testing.T) HarnessOption {
	t.Helper()
	dsn := os.Getenv("GOVFLOW_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GOVFLOW_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := store.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("ensure schema: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE govflow_records"); err != nil {
		pool.Close()
		t.Fatalf("truncate records: %v", err)
	}
	return func(c *harnessConfig) {
		c.pool = pool
	}
}

// NewTestHarness creates and starts a fully wired GovFlow test server. The
// server is automatically stopped when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()
	ctx := context.Background()

	hc := &harnessConfig{
		handlerTimeout:   10 * time.Second,
		maxDocumentBytes: 1 << 20,
	}
	for _, opt := range opts {
		opt(hc)
	}

	// Step 1: Build config.
	cfg := config.Defaults()
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Auth.ExposeResetToken = hc.exposeResetToken
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Documents.MaxBytes = hc.maxDocumentBytes

	h := &TestHarness{t: t, Config: cfg, registry: prometheus.NewRegistry()}
	h.Metrics = observability.InitMetrics(h.registry)

	// Step 2: Build stores.
	if hc.pool != nil {
		h.Stores = store.NewPgStores(hc.pool)
	} else {
		h.Stores = store.NewMemoryStores()
	}
	t.Cleanup(h.Stores.Close)

	// Step 3: Load seed data.
	results, err := seed.NewLoader(h.Stores, bcrypt.MinCost, zap.NewNop(), seed.WithObserver(h.Metrics)).LoadDir(ctx, repoPath("seed"))
	if err != nil {
		t.Fatalf("load seed: %v", err)
	}
	checksums := make([]string, len(results))
	records := 0
	for i, r := range results {
		checksums[i] = r.Checksum
		records += r.Loaded
	}
	seedState := observability.NewSeedState(checksums, records)

	// Step 4: Build policy.
	policyFile := hc.policyFile
	if policyFile != "" && !filepath.IsAbs(policyFile) {
		policyFile = filepath.Join(testdataDir(), policyFile)
	}
	policy, err := access.NewPolicy(policyFile)
	if err != nil {
		t.Fatalf("load policy file: %v", err)
	}

	// Step 5: Build auth.
	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	resets := hc.resetTokens
	if resets == nil {
		resets = auth.NewMemoryResetTokenStore()
	}
	authSvc := auth.NewService(h.Stores.Users, tokens, resets, cfg.Auth, zap.NewNop(), auth.WithObserver(h.Metrics))

	// Step 6: Build domain services.
	docs, err := document.NewFSStore(t.TempDir(), cfg.Documents.MaxBytes)
	if err != nil {
		t.Fatalf("document store: %v", err)
	}
	defs := workflow.NewDefinitions(h.Stores)
	h.Engine = workflow.NewEngine(h.Stores, defs, zap.NewNop(),
		workflow.WithObserver(h.Metrics), workflow.WithMaxDocumentBytes(docs.MaxBytes()))

	// Step 7: Build router with full middleware chain.
	router := transport.NewRouter(transport.Dependencies{
		Config:      cfg,
		Logger:      zap.NewNop(),
		Auth:        authSvc,
		Policy:      policy,
		Catalog:     catalog.New(h.Stores),
		Definitions: defs,
		Engine:      h.Engine,
		Documents:   docs,
		Metrics:     h.Metrics,
		Readiness: observability.ReadinessChecks{
			Seed:        func() observability.SeedState { return seedState },
			Store:       h.Stores,
			ResetTokens: resets,
			Documents:   docs,
		},
	})

	// Step 8: Start test server.
	h.server = httptest.NewServer(router)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Gather returns the harness's collected metric families.
func (h *TestHarness) Gather() map[string]float64 {
	h.t.Helper()
	families, err := h.registry.Gather()
	if err != nil {
		h.t.Fatalf("gather metrics: %v", err)
	}
	totals := make(map[string]float64, len(families))
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				totals[f.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				totals[f.GetName()] += m.GetGauge().GetValue()
			}
		}
	}
	return totals
}

// --- HTTP client helpers ---

// Login authenticates through the API and returns the bearer token.
func (h *TestHarness) Login(identifier, password string) string {
	h.t.Helper()
	resp := h.POST("/api/auth/login", map[string]string{"identifier": identifier, "password": password}, "")
	var body struct {
		Token string `json:"token"`
	}
	h.AssertJSON(h.t, resp, http.StatusOK, &body)
	return body.Token
}

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, headers)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("PUT", path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("DELETE", path, nil, token, nil)
}

// Upload posts a multipart document for a request's document slot.
func (h *TestHarness) Upload(requestID, field, filename string, content []byte, token string) *http.Response {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("field", field); err != nil {
		h.t.Fatalf("write field: %v", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		h.t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write(content)
	if err := mw.Close(); err != nil {
		h.t.Fatalf("close multipart: %v", err)
	}
	return h.doRequest("POST", "/api/service-requests/"+requestID+"/documents", &buf, token,
		map[string]string{"Content-Type": mw.FormDataContentType()})
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	url := h.server.URL + path

	var bodyReader io.Reader
	jsonBody := false
	switch b := body.(type) {
	case nil:
	case io.Reader:
		bodyReader = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
		jsonBody = true
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if jsonBody {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != expected {
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks that the response has the expected status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// AssertErrorKind checks the status and errorKind of an error response.
func (h *TestHarness) AssertErrorKind(t *testing.T, resp *http.Response, expected int, kind string) ErrorBody {
	t.Helper()
	var body ErrorBody
	h.AssertJSON(t, resp, expected, &body)
	if body.ErrorKind != kind {
		t.Errorf("errorKind = %q, want %q (message %q)", body.ErrorKind, kind, body.Message)
	}
	return body
}

// ErrorBody is the error envelope as clients see it.
type ErrorBody struct {
	Error     string `json:"error"`
	ErrorKind string `json:"errorKind"`
	Message   string `json:"message"`
	Details   []struct {
		Field string `json:"field"`
		Code  string `json:"code"`
	} `json:"details"`
}

// --- Seeded accounts ---

// Account is a seeded staff login.
type Account struct {
	ID       string
	Email    string
	Password string
	Role     string
}

// Seeded accounts from seed/users.json.
var (
	Admin          = Account{ID: "1", Email: "admin@gov.lk", Password: "admin123", Role: "ADMIN"}
	Officer        = Account{ID: "2", Email: "officer@gov.lk", Password: "officer123", Role: "OFFICER"}
	SectionHead    = Account{ID: "3", Email: "sectionhead@gov.lk", Password: "section123", Role: "SECTION_HEAD"}
	DepartmentHead = Account{ID: "4", Email: "depthead@gov.lk", Password: "dept12345", Role: "DEPARTMENT_HEAD"}
)

// LoginAs logs a seeded account in.
func (h *TestHarness) LoginAs(a Account) string {
	h.t.Helper()
	return h.Login(a.Email, a.Password)
}

// --- Helpers ---

// PDFFixture is a minimal document that sniffs as application/pdf.
var PDFFixture = []byte("%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Root 1 0 R >>\n%%EOF\n")

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// repoPath returns an absolute path relative to the repository root.
func repoPath(rel string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", rel)
}

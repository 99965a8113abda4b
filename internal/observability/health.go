package observability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the readiness body. Status is "ready" only when every
// check is "ok".
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string         `json:"status"`
	LatencyMs int64          `json:"latency_ms"`
	Error     string         `json:"error,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// driverNamer is implemented by checkers that can say which backend they run
// on. The name is reported in the check detail.
type driverNamer interface {
	Driver() string
}

// SeedState is the outcome of the startup seed load.
type SeedState struct {
	Loaded  bool
	Records int
	// Digest identifies the seed data; replicas started from the same files
	// report the same digest.
	Digest string
}

// NewSeedState summarises a finished seed load from its per-file checksums,
// in load order, and the number of records stored.
func NewSeedState(checksums []string, records int) SeedState {
	h := sha256.New()
	for _, c := range checksums {
		h.Write([]byte(c))
		h.Write([]byte{'\n'})
	}
	return SeedState{Loaded: true, Records: records, Digest: hex.EncodeToString(h.Sum(nil))}
}

// ReadinessChecks lists what /ready inspects. Seed is always checked; a nil
// checker is skipped.
type ReadinessChecks struct {
	Seed        func() SeedState
	Store       HealthChecker
	ResetTokens HealthChecker
	Documents   HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth serves the liveness endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

// HandleReady serves the readiness endpoint. Checks run concurrently, each
// under its own timeout.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	deps := map[string]HealthChecker{
		"store":        checks.Store,
		"reset_tokens": checks.ResetTokens,
		"documents":    checks.Documents,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		results := map[string]CheckResult{"seed": seedResult(checks.Seed)}
		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, checker := range deps {
			if checker == nil {
				continue
			}
			wg.Go(func() {
				res := runCheck(r.Context(), checker)
				mu.Lock()
				results[name] = res
				mu.Unlock()
			})
		}
		wg.Wait()

		resp := ReadinessResponse{Status: "ready", Checks: results}
		code := http.StatusOK
		for _, res := range results {
			if res.Status != "ok" {
				resp.Status = "not_ready"
				code = http.StatusServiceUnavailable
				break
			}
		}
		writeHealthJSON(w, code, resp)
	}
}

func seedResult(state func() SeedState) CheckResult {
	if state == nil {
		return CheckResult{Status: "error", Error: "seed data not loaded"}
	}
	s := state()
	if !s.Loaded {
		return CheckResult{Status: "error", Error: "seed data not loaded"}
	}
	return CheckResult{Status: "ok", Detail: map[string]any{"records": s.Records, "digest": s.Digest}}
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	if d, ok := checker.(driverNamer); ok {
		res.Detail = map[string]any{"driver": d.Driver()}
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

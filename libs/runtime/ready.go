package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// ReadyCheck is a named dependency check shared by /readyz and the gRPC health service.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

const checkTimeout = 2 * time.Second

// RunChecks runs the checks concurrently, each bounded by timeout, and returns the error of
// every failed check keyed by name. Unnamed checks are reported as "dependency".
func RunChecks(ctx context.Context, timeout time.Duration, checks []ReadyCheck) map[string]error {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = map[string]error{}
	)
	for _, c := range checks {
		if c.Check == nil {
			continue
		}
		wg.Add(1)
		go func(c ReadyCheck) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := c.Check(checkCtx); err != nil {
				name := c.Name
				if name == "" {
					name = "dependency"
				}
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
		}(c)
	}
	wg.Wait()
	return failures
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewBaseMuxWithReady serves /healthz for liveness and /readyz as a JSON report of
// every check: 200 when all pass, 503 otherwise.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		failures := RunChecks(r.Context(), checkTimeout, checks)
		body := readiness{Status: "ready", Checks: map[string]string{}}
		for _, name := range checkNames(checks) {
			if err, failed := failures[name]; failed {
				body.Checks[name] = err.Error()
				continue
			}
			body.Checks[name] = "ok"
		}
		code := http.StatusOK
		if len(failures) > 0 {
			body.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}

func checkNames(checks []ReadyCheck) []string {
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		if c.Check == nil {
			continue
		}
		if c.Name == "" {
			names = append(names, "dependency")
			continue
		}
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

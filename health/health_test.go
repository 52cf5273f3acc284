package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abairt/gaelgate/bridge"
)

func upstream(t *testing.T, healthy bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func target(name, base string) Target {
	cfg := bridge.Config{BaseURL: base, Timeout: 2 * time.Second, MaxInFlight: 2}
	return Target{Name: name, Probe: bridge.NewClient(name, cfg)}
}

func get(t *testing.T, h *Handler) (int, Report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var rep Report
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return rec.Code, rep
}

func TestAggregation(t *testing.T) {
	good := upstream(t, true)
	bad := upstream(t, false)

	t.Run("all up is healthy", func(t *testing.T) {
		h := NewHandler([]Target{target("gaelspell", good.URL), target("gramadoir", good.URL)})
		code, rep := get(t, h)
		if code != http.StatusOK || rep.Status != StatusHealthy {
			t.Fatalf("code = %d, status = %s", code, rep.Status)
		}
		if rep.Services["gaelspell"].Status != "up" {
			t.Fatalf("services = %+v", rep.Services)
		}
	})

	t.Run("partial outage is degraded but still 200", func(t *testing.T) {
		h := NewHandler([]Target{target("gaelspell", good.URL), target("gramadoir", bad.URL)})
		code, rep := get(t, h)
		if code != http.StatusOK || rep.Status != StatusDegraded {
			t.Fatalf("code = %d, status = %s", code, rep.Status)
		}
		if rep.Services["gramadoir"].Status != "down" {
			t.Fatalf("services = %+v", rep.Services)
		}
	})

	t.Run("total outage is unhealthy 503", func(t *testing.T) {
		h := NewHandler([]Target{target("gaelspell", bad.URL), target("gramadoir", "http://127.0.0.1:1")})
		code, rep := get(t, h)
		if code != http.StatusServiceUnavailable || rep.Status != StatusUnhealthy {
			t.Fatalf("code = %d, status = %s", code, rep.Status)
		}
	})

	t.Run("no targets is healthy", func(t *testing.T) {
		h := NewHandler(nil)
		code, rep := get(t, h)
		if code != http.StatusOK || rep.Status != StatusHealthy {
			t.Fatalf("code = %d, status = %s", code, rep.Status)
		}
	})
}

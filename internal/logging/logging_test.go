package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	defer Replace(zap.New(core))()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/projects/{id}/state", func(w http.ResponseWriter, r *http.Request) {
		WithContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	h := Middleware(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/state", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-1" {
		t.Errorf("X-Request-ID = %q", got)
	}
	inside := logs.FilterMessage("inside handler").All()
	if len(inside) != 1 || inside[0].ContextMap()["request_id"] != "req-1" {
		t.Errorf("handler entry = %+v", inside)
	}
	done := logs.FilterMessage("request completed").All()
	if len(done) != 1 {
		t.Fatalf("completed entries = %d", len(done))
	}
	fields := done[0].ContextMap()
	if fields["route"] != "GET /api/v1/projects/{id}/state" || fields["project_id"] != "p1" || fields["status"] != int64(204) {
		t.Errorf("fields = %v", fields)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	failed := logs.FilterMessage("request failed").All()
	if len(failed) != 1 || failed[0].Level != zapcore.WarnLevel {
		t.Fatalf("failed entries = %+v", failed)
	}
	if failed[0].ContextMap()["request_id"] == "" {
		t.Error("no generated request id")
	}
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	defer Replace(nil)()
	if err := Init(Config{Level: "loud", Format: "console", OutputPath: "stderr"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !L().Core().Enabled(zapcore.InfoLevel) || L().Core().Enabled(zapcore.DebugLevel) {
		t.Error("level is not info")
	}
}

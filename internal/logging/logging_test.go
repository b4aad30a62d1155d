package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLevelAndFormat(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"defaults", nil, false},
		{"debug json", &Config{Level: "debug", Format: "json"}, false},
		{"console to stdout", &Config{Level: "warn", Format: "console", Output: "stdout"}, false},
		{"bad level", &Config{Level: "shout"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if logger == nil {
				t.Fatal("expected a logger")
			}
		})
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	logger, err := New(&Config{Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("written to file")
	logger.Sync()
}

func TestContextRoundTrip(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("expected the installed logger back")
	}
	if FromContext(context.Background()) == nil {
		t.Error("expected a fallback logger for a bare context")
	}
}

func TestRequestLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	r := chi.NewRouter()
	r.Use(RequestLogger(logger))
	r.Get("/api/v1/models/{id}", func(w http.ResponseWriter, r *http.Request) {
		// Handlers see the request-scoped logger.
		FromContext(r.Context()).Info("handled")
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/v1/models/42", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	handled := logs.FilterMessage("handled").All()
	if len(handled) != 1 {
		t.Fatalf("expected the handler log entry, got %v", logs.All())
	}

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if fields["status"] != int64(http.StatusOK) {
		t.Errorf("status = %v", fields["status"])
	}
	if fields["method"] != "GET" {
		t.Errorf("method = %v", fields["method"])
	}
	if fields["route"] != "/api/v1/models/{id}" {
		t.Errorf("route = %v", fields["route"])
	}
}

func TestRequestLoggerEscalatesServerErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	r := chi.NewRouter()
	r.Use(RequestLogger(logger))
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	if completed[0].Level != zapcore.ErrorLevel {
		t.Errorf("expected error level for a 500, got %v", completed[0].Level)
	}
}

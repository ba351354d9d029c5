package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// HandleHealthz responds to liveness checks.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness checks with dependency checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.opts.DB == nil {
				return errors.New("no database configured")
			}
			return h.opts.DB.Ping(r.Context())
		}},
		{"schema", func() error {
			if h.opts.SchemaVersion == nil {
				return nil
			}
			v, dirty, err := h.opts.SchemaVersion()
			if err != nil {
				return err
			}
			if dirty {
				return fmt.Errorf("schema dirty at version %d", v)
			}
			if v == 0 {
				return errors.New("no migrations applied")
			}
			return nil
		}},
		{"transports", func() error {
			if len(h.opts.Transports) == 0 {
				return errors.New("no chat transports running")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "transports": h.opts.Transports})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

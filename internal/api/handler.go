package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/vastfmt/internal/audio"
	"github.com/kalambet/vastfmt/internal/gpio"
	"github.com/kalambet/vastfmt/internal/panel"
	"github.com/kalambet/vastfmt/internal/rds"
	"github.com/kalambet/vastfmt/internal/settings"
	"github.com/kalambet/vastfmt/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AudioRouter detects the transmitter and switches the default output.
type AudioRouter interface {
	Detect(ctx context.Context) (audio.Detection, error)
	Status(ctx context.Context) (audio.Routing, error)
	Toggle(ctx context.Context, state string) (string, error)
}

// SettingsService reads and validates plugin settings.
type SettingsService interface {
	All() (map[string]string, error)
	Get(key string) (string, error)
	Set(key, value string) (string, error)
	SetMany(values map[string]string) (map[string]string, error)
	Reset(key string) (string, error)
	History(limit int) ([]storage.Change, error)
}

// PinLister returns the host's GPIO pins.
type PinLister interface {
	ListPins(ctx context.Context) ([]gpio.Pin, error)
}

// Deps holds the handler's collaborators. Pins and Devices are optional.
type Deps struct {
	Router   AudioRouter
	Settings SettingsService
	Panel    *panel.Panel
	Pins     PinLister
	Devices  func() ([]string, error)
	Token    string
	Logger   *slog.Logger
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Detection audio.Detection `json:"detection"`
	Routing   audio.Routing   `json:"routing"`
}

// FMRequest is the body of POST /api/fm.
type FMRequest struct {
	State string `json:"state"`
}

// NewHandler returns the daemon's HTTP surface: the settings page, the
// plain-text toggle endpoint the page calls, and the JSON API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/", handlePanel(deps))
	r.Post("/", handleSaveForm(deps))
	r.Get("/ajax", handleAjax(deps))
	r.Get("/rds/script", handleRDSScript(deps))

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/status", handleStatus(deps))
		r.Post("/fm", handleFM(deps))
		r.Get("/settings", handleGetSettings(deps))
		r.Patch("/settings", handlePatchSettings(deps))
		r.Get("/settings/history", handleHistory(deps))
		r.Delete("/settings/{key}", handleResetSetting(deps))
		r.Get("/devices", handleDevices(deps))
		r.Get("/gpio", handleGPIO(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handlePanel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Panel.Gather(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		v.Saved = r.URL.Query().Get("saved") == "1"
		renderPanel(w, deps, http.StatusOK, v)
	}
}

func handleSaveForm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			http.Error(w, fmt.Sprintf("invalid form: %v", err), http.StatusBadRequest)
			return
		}

		values := make(map[string]string)
		for _, k := range settings.Keys {
			if _, ok := r.PostForm[k.Name]; ok {
				values[k.Name] = r.PostForm.Get(k.Name)
			}
		}

		_, err := deps.Settings.SetMany(values)
		if err == nil {
			http.Redirect(w, r, "/?saved=1", http.StatusSeeOther)
			return
		}
		if !isValidationError(err) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		v, gerr := deps.Panel.Gather(r.Context())
		if gerr != nil {
			http.Error(w, gerr.Error(), http.StatusInternalServerError)
			return
		}
		v.Errors = errorMessages(err)
		renderPanel(w, deps, http.StatusBadRequest, v)
	}
}

func renderPanel(w http.ResponseWriter, deps Deps, code int, v panel.View) {
	var b strings.Builder
	if err := deps.Panel.Render(&b, v); err != nil {
		deps.Logger.Error("rendering panel", "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(b.String()))
}

// handleAjax is the toggle endpoint used by the page's checkbox. Any fm
// value other than enabled/disabled gets an empty reply.
func handleAjax(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		state := r.URL.Query().Get("fm")
		if state != audio.StateEnabled && state != audio.StateDisabled {
			return
		}

		reply, err := deps.Router.Toggle(r.Context(), state)
		if err != nil {
			deps.Logger.Error("toggling FM audio", "state", state, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Write([]byte(reply))
	}
}

func handleRDSScript(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		freq := q.Get("frequency")
		if freq == "" {
			stored, err := deps.Settings.Get(settings.Frequency)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "reading frequency: %v", err)
				return
			}
			freq = stored
		}

		script, err := rds.Script(rds.ScriptParams{
			Frequency: freq,
			Artist:    queryDefault(q.Get("artist"), "Artist Name"),
			Title:     queryDefault(q.Get("title"), "Song Title"),
			Station:   queryDefault(q.Get("station"), "VAST"),
		})
		if err != nil {
			if errors.Is(err, rds.ErrStationTooLong) || errors.Is(err, rds.ErrInvalidFrequency) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(script))
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		det, err := deps.Router.Detect(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "detecting transmitter: %v", err)
			return
		}
		st, err := deps.Router.Status(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading routing: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{Detection: det, Routing: st})
	}
}

func handleFM(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req FMRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		reply, err := deps.Router.Toggle(r.Context(), req.State)
		if err != nil {
			if errors.Is(err, audio.ErrInvalidState) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "toggling FM audio: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": reply})
	}
}

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := deps.Settings.All()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	}
}

func handlePatchSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var values map[string]string
		if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(values) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one setting is required")
			return
		}

		if _, err := deps.Settings.SetMany(values); err != nil {
			if isValidationError(err) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", strings.Join(errorMessages(err), "; "))
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save settings: %v", err)
			return
		}

		all, err := deps.Settings.All()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	}
}

func handleResetSetting(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if _, err := deps.Settings.Reset(key); err != nil {
			if errors.Is(err, settings.ErrUnknownKey) {
				httpError(w, http.StatusNotFound, "not_found_error", "unknown setting %q", key)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset setting: %v", err)
			return
		}

		all, err := deps.Settings.All()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load settings: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, all)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		changes, err := deps.Settings.History(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		if changes == nil {
			changes = []storage.Change{}
		}
		writeJSON(w, http.StatusOK, changes)
	}
}

func handleDevices(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		devices := []string{}
		if deps.Devices != nil {
			found, err := deps.Devices()
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "listing serial devices: %v", err)
				return
			}
			devices = append(devices, found...)
		}
		writeJSON(w, http.StatusOK, map[string][]string{"devices": devices})
	}
}

func handleGPIO(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Pins == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "GPIO host is not configured")
			return
		}
		pins, err := deps.Pins.ListPins(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "listing GPIO pins: %v", err)
			return
		}
		if pins == nil {
			pins = []gpio.Pin{}
		}
		writeJSON(w, http.StatusOK, pins)
	}
}

func isValidationError(err error) bool {
	var ve *settings.ValidationError
	return errors.As(err, &ve) || errors.Is(err, settings.ErrUnknownKey)
}

// errorMessages flattens an errors.Join result into one message per error.
func errorMessages(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}

func queryDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseIntParam(r *http.Request, name string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

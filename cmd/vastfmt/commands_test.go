package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/vastfmt/internal/config"
	"github.com/kalambet/vastfmt/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client(token string) *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      token,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestFetchStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/status": `{"detection":{"present":true,"index":2,"card":{"index":2,"id":"Vast","driver":"USB-Audio","name":"V-FMT212R","long_name":""}},"routing":{"enabled":true,"card":2,"source":"asoundrc"}}`,
	})

	st, err := fetchStatus(ctx, ts.client("test-token"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Detection.Present || st.Detection.Index != 2 {
		t.Errorf("Detection = %+v", st.Detection)
	}
	if !st.Routing.Enabled || st.Routing.Source != "asoundrc" {
		t.Errorf("Routing = %+v", st.Routing)
	}

	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /api/devices": `{"devices":[]}`})

	resp, err := ts.client("").get(ctx, "/api/devices")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if got := ts.requests[0].Auth; got != "" {
		t.Errorf("auth = %q, want no header", got)
	}
}

func TestSettingsPatch(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /api/settings": `{"Frequency":"88.50","Power":"110"}`,
	})

	values, err := parseAssignments([]string{"Frequency=88.5"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.client("").patch(ctx, "/api/settings", values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var all map[string]string
	if err := decodeJSON(resp, &all); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if all["Frequency"] != "88.50" {
		t.Errorf("Frequency = %q", all["Frequency"])
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["Frequency"] != "88.5" {
		t.Errorf("body.Frequency = %q, want 88.5", body["Frequency"])
	}
}

func TestSettingsReset(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /api/settings/Power": `{"Frequency":"100.10","Power":"110"}`,
	})

	resp, err := ts.client("tok").delete(ctx, "/api/settings/Power")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var all map[string]string
	if err := decodeJSON(resp, &all); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if all["Power"] != "110" {
		t.Errorf("Power = %q", all["Power"])
	}
	if r := ts.requests[0]; r.Method != http.MethodDelete || r.Auth != "Bearer tok" {
		t.Errorf("request = %+v", r)
	}
}

func TestDecodeJSON_ServerError(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client("").get(ctx, "/api/missing")
	if err != nil {
		t.Fatal(err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q", err)
	}
}

func TestReadText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("station") != "XMAS" {
			http.Error(w, "bad station", http.StatusBadRequest)
			return
		}
		w.Write([]byte("#!/bin/sh\n"))
	}))
	t.Cleanup(srv.Close)
	c := &apiClient{baseURL: srv.URL, httpClient: srv.Client()}

	resp, err := c.get(ctx, "/rds/script?station=XMAS")
	if err != nil {
		t.Fatal(err)
	}
	text, err := readText(resp)
	if err != nil || text != "#!/bin/sh\n" {
		t.Errorf("readText = %q, %v", text, err)
	}

	resp, err = c.get(ctx, "/rds/script")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := readText(resp); err == nil {
		t.Error("expected error for 400 response")
	}
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"Power=100", "StationText=Merry   Christ- mas", "RDSTextText="})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]string{"Power": "100", "StationText": "Merry   Christ- mas", "RDSTextText": ""}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	for _, bad := range []string{"Power", "=100"} {
		if _, err := parseAssignments([]string{bad}); err == nil {
			t.Errorf("parseAssignments(%q) expected error", bad)
		}
	}
}

func TestFormatChange(t *testing.T) {
	old := "100.10"
	at := time.Date(2024, 12, 1, 18, 30, 0, 0, time.Local)

	got := formatChange(storage.Change{Key: "Frequency", OldValue: &old, NewValue: "88.50", ChangedAt: at})
	if !strings.Contains(got, `Frequency: "100.10" → "88.50"`) || !strings.Contains(got, "2024-12-01 18:30:00") {
		t.Errorf("formatChange = %q", got)
	}

	got = formatChange(storage.Change{Key: "Pty", NewValue: "10", ChangedAt: at})
	if !strings.Contains(got, "(unset)") {
		t.Errorf("formatChange without old value = %q", got)
	}
}

func TestScriptQuery(t *testing.T) {
	c := &cobra.Command{}
	for _, name := range []string{"artist", "title", "station", "frequency"} {
		c.Flags().String(name, "", "")
	}
	c.Flags().Set("artist", "Bing Crosby")
	c.Flags().Set("station", "XMAS")

	q := scriptQuery(c)
	if q.Get("artist") != "Bing Crosby" || q.Get("station") != "XMAS" {
		t.Errorf("query = %v", q)
	}
	if q.Has("title") || q.Has("frequency") {
		t.Errorf("empty flags should be omitted: %v", q)
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))

	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

// TestServicesEndToEnd wires the real services behind an httptest server
// and drives them through the CLI client.
func TestServicesEndToEnd(t *testing.T) {
	noColor = true
	dir := t.TempDir()
	cards := filepath.Join(dir, "cards")
	os.WriteFile(cards, []byte(" 0 [ALSA           ]: bcm2835_alsa - bcm2835 ALSA\n                      bcm2835 ALSA\n 1 [Vast           ]: USB-Audio - V-FMT212R\n                      Vast Electronics V-FMT212R\n"), 0o644)
	rc := filepath.Join(dir, "asoundrc")

	cfg := config.Config{
		Storage:  config.StorageConfig{DataDir: filepath.Join(dir, "data")},
		Alsa:     config.AlsaConfig{CardsPath: cards, ConfPath: filepath.Join(dir, "alsa.conf"), AsoundrcPath: rc},
		Hardware: config.HardwareConfig{Profile: "V-FMT212R", Platform: "default"},
		Host:     config.HostConfig{GPIOURL: "http://127.0.0.1:1/api/gpio"},
		Serial:   config.SerialConfig{Pattern: filepath.Join(dir, "ttyUSB*")},
	}
	svc, err := openServices(cfg)
	if err != nil {
		t.Fatalf("openServices: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	srv := httptest.NewServer(svc.handler(""))
	t.Cleanup(srv.Close)

	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) {
		return &apiClient{baseURL: srv.URL, httpClient: srv.Client()}, nil
	}
	t.Cleanup(func() { newAPIClient = orig })

	if err := setFM(ctx, "enabled"); err != nil {
		t.Fatalf("setFM: %v", err)
	}
	data, err := os.ReadFile(rc)
	if err != nil {
		t.Fatalf("reading asoundrc: %v", err)
	}
	if !strings.Contains(string(data), "card 1") {
		t.Errorf("asoundrc = %q, want card 1", data)
	}

	client, _ := newAPIClient()
	st, err := fetchStatus(ctx, client)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Routing.Enabled || st.Routing.Card != 1 {
		t.Errorf("Routing = %+v", st.Routing)
	}

	// openServices stores the defaults.
	stored, err := svc.store.AllSettings()
	if err != nil {
		t.Fatal(err)
	}
	if stored["Stop"] != "Never" {
		t.Errorf("stored Stop = %q, want Never", stored["Stop"])
	}
}

func TestOpenServices_ProfileConnections(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		Storage:  config.StorageConfig{DataDir: filepath.Join(dir, "data")},
		Alsa:     config.AlsaConfig{CardsPath: filepath.Join(dir, "cards")},
		Hardware: config.HardwareConfig{Profile: "Si4713", Platform: "default"},
		Host:     config.HostConfig{GPIOURL: "http://127.0.0.1:1/api/gpio"},
		Serial:   config.SerialConfig{Pattern: filepath.Join(dir, "ttyUSB*")},
	}
	svc, err := openServices(cfg)
	if err != nil {
		t.Fatalf("openServices: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	if got, _ := svc.settings.Get("Connection"); got != "I2C" {
		t.Errorf("Connection = %q, want I2C", got)
	}
	if _, err := svc.settings.Set("Connection", "USB"); err == nil {
		t.Error("USB accepted for an I2C-only board")
	}
}

func TestOpenServices_UnknownProfile(t *testing.T) {
	cfg := config.Config{
		Storage:  config.StorageConfig{DataDir: t.TempDir()},
		Hardware: config.HardwareConfig{Profile: "NoSuchBox"},
	}
	if _, err := openServices(cfg); err == nil {
		t.Fatal("expected error for unknown hardware profile")
	}
}

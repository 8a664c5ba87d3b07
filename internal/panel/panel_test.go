package panel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/vastfmt/internal/audio"
	"github.com/kalambet/vastfmt/internal/gpio"
	"github.com/kalambet/vastfmt/internal/hardware"
	"github.com/kalambet/vastfmt/internal/settings"
)

// --- mocks ---

type mockRouter struct {
	det audio.Detection
	st  audio.Routing
	err error
}

func (m *mockRouter) Detect(context.Context) (audio.Detection, error) { return m.det, m.err }
func (m *mockRouter) Status(context.Context) (audio.Routing, error)   { return m.st, m.err }

type mockSettings struct {
	values map[string]string
	err    error
}

func (m *mockSettings) All() (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	cp := make(map[string]string, len(m.values))
	for k, v := range m.values {
		cp[k] = v
	}
	return cp, nil
}

type mockPins struct {
	pins []gpio.Pin
	err  error
}

func (m *mockPins) ListPins(context.Context) ([]gpio.Pin, error) { return m.pins, m.err }

func defaultValues() map[string]string {
	v := make(map[string]string)
	for _, k := range settings.Keys {
		v[k.Name] = k.Default
	}
	return v
}

func testProfile() hardware.Profile {
	return hardware.Profile{Name: "V-FMT212R", Vendor: "Vast Electronics", Model: "V-FMT212R", Chip: "Si4713", CardMatch: "vast"}
}

func TestGather(t *testing.T) {
	p := New(Deps{
		Profile:  testProfile(),
		Router:   &mockRouter{det: audio.Detection{Present: true, Index: 2}, st: audio.Routing{Enabled: true, Card: 2, Source: "asoundrc"}},
		Settings: &mockSettings{values: defaultValues()},
		Pins:     &mockPins{pins: []gpio.Pin{{Pin: "P1-07", GPIO: 4}}},
		Devices:  func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil },
	})

	v, err := p.Gather(context.Background())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if !v.Detection.Present || v.Detection.Index != 2 {
		t.Errorf("Detection = %+v", v.Detection)
	}
	if !v.Routing.Enabled {
		t.Error("Routing.Enabled = false, want true")
	}
	if len(v.Devices) != 1 || len(v.Pins) != 1 {
		t.Errorf("Devices = %v, Pins = %v", v.Devices, v.Pins)
	}
	if len(v.Fields) != len(settings.Keys) {
		t.Errorf("got %d fields, want %d", len(v.Fields), len(settings.Keys))
	}
	if !strings.Contains(v.Script, "FREQUENCY=100.10") {
		t.Errorf("script does not use stored frequency:\n%s", v.Script)
	}
	if !v.ShowDevices() {
		t.Error("ShowDevices() = false for USB connection")
	}
	if v.RDSPreview.Text != "Artist Name - Song Title" {
		t.Errorf("RDSPreview.Text = %q", v.RDSPreview.Text)
	}
	if len(v.Station) != 3 || v.Station[0] != "Merry   " || v.Station[2] != "mas     " {
		t.Errorf("Station = %q", v.Station)
	}
}

func TestGather_ProbeFailuresDegrade(t *testing.T) {
	p := New(Deps{
		Profile:  testProfile(),
		Router:   &mockRouter{err: errors.New("no proc")},
		Settings: &mockSettings{values: defaultValues()},
		Pins:     &mockPins{err: errors.New("connection refused")},
		Devices:  func() ([]string, error) { return nil, errors.New("bad pattern") },
	})

	v, err := p.Gather(context.Background())
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if v.Detection.Present {
		t.Error("Detection.Present = true after failure")
	}
	if v.PinsError == "" {
		t.Error("PinsError not set")
	}
	for _, f := range v.Fields {
		if f.Name == settings.ResetPin && f.Control != "number" {
			t.Errorf("ResetPin control = %q without pins, want number", f.Control)
		}
	}
}

func TestGather_SettingsFailure(t *testing.T) {
	p := New(Deps{Profile: testProfile(), Settings: &mockSettings{err: errors.New("db closed")}})

	if _, err := p.Gather(context.Background()); err == nil {
		t.Fatal("expected error when settings cannot be loaded")
	}
}

func TestBuildFields(t *testing.T) {
	values := defaultValues()
	values[settings.ResetPin] = "17"
	pins := []gpio.Pin{{Pin: "P1-07", GPIO: 4}, {Pin: "P1-11", GPIO: 17}}

	fields := buildFields(settings.Keys, values, pins)
	byName := make(map[string]Field)
	for _, f := range fields {
		byName[f.Name] = f
	}

	reset := byName[settings.ResetPin]
	if reset.Control != "select" || len(reset.Options) != 2 {
		t.Fatalf("ResetPin field = %+v", reset)
	}
	if !reset.Options[1].Selected || reset.Options[0].Selected {
		t.Errorf("ResetPin selection = %+v", reset.Options)
	}
	if reset.Options[1].Label != "P1-11 (GPIO 17)" {
		t.Errorf("option label = %q", reset.Options[1].Label)
	}

	freq := byName[settings.Frequency]
	if freq.Control != "number" || freq.Min != "76" || freq.Max != "108" || freq.Step != "0.05" {
		t.Errorf("Frequency field = %+v", freq)
	}

	if byName[settings.StationText].Control != "text" {
		t.Errorf("StationText control = %q", byName[settings.StationText].Control)
	}
}

func TestBuildFields_UnlistedPin(t *testing.T) {
	values := defaultValues()
	values[settings.ResetPin] = "14"
	pins := []gpio.Pin{{Pin: "P1-07", GPIO: 4}, {Pin: "P1-11", GPIO: 17}}

	var reset Field
	for _, f := range buildFields(settings.Keys, values, pins) {
		if f.Name == settings.ResetPin {
			reset = f
		}
	}
	if len(reset.Options) != 3 {
		t.Fatalf("ResetPin options = %+v, want 3", reset.Options)
	}
	first := reset.Options[0]
	if first.Value != "14" || !first.Selected || first.Label != "14 (not listed by host)" {
		t.Errorf("first option = %+v", first)
	}
	for _, o := range reset.Options[1:] {
		if o.Selected {
			t.Errorf("host pin %q selected", o.Value)
		}
	}
}

func TestBuildFields_ProfileConnections(t *testing.T) {
	p := hardware.Profile{Name: "Si4713", Connections: []string{"I2C"}}
	values := defaultValues()
	values[settings.Connection] = "I2C"

	for _, f := range buildFields(settings.KeysFor(p), values, nil) {
		if f.Name != settings.Connection {
			continue
		}
		if len(f.Options) != 1 || f.Options[0].Value != "I2C" || !f.Options[0].Selected {
			t.Errorf("Connection options = %+v, want only I2C", f.Options)
		}
	}
}

func TestRender(t *testing.T) {
	p := New(Deps{
		Profile:  testProfile(),
		Router:   &mockRouter{det: audio.Detection{Present: false, Index: -1}},
		Settings: &mockSettings{values: defaultValues()},
	})
	v, err := p.Gather(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	v.Errors = []string{`invalid value "<b>" for Pty`}

	var b strings.Builder
	if err := p.Render(&b, v); err != nil {
		t.Fatalf("Render: %v", err)
	}
	html := b.String()

	for _, want := range []string{
		"Vast Electronics V-FMT212R",
		`<span class="bad">Not Detected</span>`,
		`id="useFmTransmitter"`,
		`name="Frequency"`,
		`<option value="75us" selected>75us</option>`,
		"RDS Support Instructions",
		"Transmitter Settings (Si4713)",
		"&lt;b&gt;",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered page missing %q", want)
		}
	}
	if strings.Contains(html, "useFmTransmitter\" onchange=\"setUseFmTransmitter(this.checked);\" checked") {
		t.Error("checkbox checked while routing is disabled")
	}
}

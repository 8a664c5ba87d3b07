// Package panel assembles and renders the transmitter settings page.
package panel

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vastfmt/internal/audio"
	"github.com/kalambet/vastfmt/internal/gpio"
	"github.com/kalambet/vastfmt/internal/hardware"
	"github.com/kalambet/vastfmt/internal/rds"
	"github.com/kalambet/vastfmt/internal/settings"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageTmpl = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// Placeholder song used for the RDS previews and the sample script.
const (
	sampleArtist = "Artist Name"
	sampleTitle  = "Song Title"
)

// AudioRouter reports transmitter presence and routing.
type AudioRouter interface {
	Detect(ctx context.Context) (audio.Detection, error)
	Status(ctx context.Context) (audio.Routing, error)
}

// SettingsReader returns the current settings.
type SettingsReader interface {
	All() (map[string]string, error)
}

// PinLister returns the host's GPIO pins.
type PinLister interface {
	ListPins(ctx context.Context) ([]gpio.Pin, error)
}

// Deps holds the panel's data sources. Pins and Devices are optional.
type Deps struct {
	Profile  hardware.Profile
	Router   AudioRouter
	Settings SettingsReader
	Pins     PinLister
	Devices  func() ([]string, error)
	Logger   *slog.Logger
}

// Panel gathers page data and renders it.
type Panel struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Panel.
func New(deps Deps) *Panel {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Panel{deps: deps, logger: logger}
}

// Option is one choice of a select control.
type Option struct {
	Value    string
	Label    string
	Selected bool
}

// Field is one rendered settings control.
type Field struct {
	Name    string
	Label   string
	Help    string
	Control string // "select", "number" or "text"
	Value   string
	Min     string
	Max     string
	Step    string
	Options []Option
}

// View is everything the page shows.
type View struct {
	Device      string
	Chip        string
	HasUSBAudio bool
	Detection   audio.Detection
	Routing     audio.Routing
	Settings    map[string]string
	Fields      []Field
	Devices     []string
	Pins        []gpio.Pin
	PinsError   string
	Script      string
	RDSPreview  rds.Text
	Station     []string
	Errors      []string
	Saved       bool
}

// ShowDevices reports whether the serial device list applies.
func (v View) ShowDevices() bool {
	return v.Settings[settings.Connection] == "USB"
}

// Gather collects the page data concurrently. Probe failures degrade to
// empty values; only a settings failure is returned.
func (p *Panel) Gather(ctx context.Context) (View, error) {
	v := View{
		Device:      p.deps.Profile.DisplayName(),
		Chip:        p.deps.Profile.Chip,
		HasUSBAudio: p.deps.Profile.HasUSBAudio(),
		Detection:   audio.Detection{Index: -1},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		all, err := p.deps.Settings.All()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		v.Settings = all
		return nil
	})

	if p.deps.Router != nil {
		g.Go(func() error {
			det, err := p.deps.Router.Detect(gctx)
			if err != nil {
				p.logger.Warn("transmitter detection failed", "error", err)
				return nil
			}
			v.Detection = det
			return nil
		})
		g.Go(func() error {
			st, err := p.deps.Router.Status(gctx)
			if err != nil {
				p.logger.Warn("reading audio routing failed", "error", err)
				return nil
			}
			v.Routing = st
			return nil
		})
	}

	if p.deps.Devices != nil {
		g.Go(func() error {
			devs, err := p.deps.Devices()
			if err != nil {
				p.logger.Warn("listing serial devices failed", "error", err)
				return nil
			}
			v.Devices = devs
			return nil
		})
	}

	if p.deps.Pins != nil {
		g.Go(func() error {
			pins, err := p.deps.Pins.ListPins(gctx)
			if err != nil {
				p.logger.Warn("listing GPIO pins failed", "error", err)
				v.PinsError = err.Error()
				return nil
			}
			v.Pins = pins
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return View{}, err
	}

	v.Fields = buildFields(settings.KeysFor(p.deps.Profile), v.Settings, v.Pins)
	v.RDSPreview = rds.Format(v.Settings[settings.RDSTextText], sampleArtist, sampleTitle)
	v.Station = rds.StationFragments(v.Settings[settings.StationText])
	script, err := rds.Script(rds.ScriptParams{
		Frequency: v.Settings[settings.Frequency],
		Artist:    sampleArtist,
		Title:     sampleTitle,
		Station:   "VAST",
	})
	if err != nil {
		p.logger.Warn("rendering RDS sample script failed", "error", err)
	}
	v.Script = script
	return v, nil
}

// Render writes the HTML page.
func (p *Panel) Render(w io.Writer, v View) error {
	return pageTmpl.ExecuteTemplate(w, "panel.html", v)
}

func buildFields(keys []settings.Key, values map[string]string, pins []gpio.Pin) []Field {
	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		f := Field{Name: k.Name, Label: k.Label, Help: k.Help, Value: values[k.Name]}
		switch k.Kind {
		case settings.KindSelect:
			f.Control = "select"
			for _, opt := range k.Options {
				f.Options = append(f.Options, Option{Value: opt, Label: opt, Selected: opt == f.Value})
			}
		case settings.KindGPIO:
			if len(pins) == 0 {
				f.Control = "number"
				f.Min = "0"
				break
			}
			f.Control = "select"
			listed := false
			for _, pin := range pins {
				val := strconv.Itoa(pin.GPIO)
				listed = listed || val == f.Value
				f.Options = append(f.Options, Option{
					Value:    val,
					Label:    fmt.Sprintf("%s (GPIO %d)", pin.Pin, pin.GPIO),
					Selected: val == f.Value,
				})
			}
			// Keep the stored pin so saving the form does not replace it.
			if !listed && f.Value != "" {
				f.Options = append([]Option{{
					Value:    f.Value,
					Label:    f.Value + " (not listed by host)",
					Selected: true,
				}}, f.Options...)
			}
		case settings.KindInt, settings.KindDecimal:
			f.Control = "number"
			f.Min = strconv.FormatFloat(k.Min, 'f', -1, 64)
			f.Max = strconv.FormatFloat(k.Max, 'f', -1, 64)
			if k.Step > 0 {
				f.Step = strconv.FormatFloat(k.Step, 'f', -1, 64)
			}
		default:
			f.Control = "text"
		}
		fields = append(fields, f)
	}
	return fields
}

package settings

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kalambet/vastfmt/internal/hardware"
)

// Kind selects how a key is validated and rendered.
type Kind int

const (
	KindSelect Kind = iota
	KindText
	KindInt
	KindDecimal
	KindGPIO
)

// Key describes one plugin setting.
type Key struct {
	Name         string
	Label        string
	Kind         Kind
	Default      string
	EmptyAllowed bool
	Options      []string
	Min, Max     float64
	Step         float64 // KindDecimal only
	Help         string
}

// Setting names shared with the host platform's settings file.
const (
	Start                     = "Start"
	Stop                      = "Stop"
	Connection                = "Connection"
	ResetPin                  = "ResetPin"
	Frequency                 = "Frequency"
	Power                     = "Power"
	Preemphasis               = "Preemphasis"
	AntCap                    = "AntCap"
	EnableRDS                 = "EnableRDS"
	StationText               = "StationText"
	RDSTextText               = "RDSTextText"
	Pty                       = "Pty"
	EnableVolumeChangeHack    = "EnableVolumeChangeHack"
	AudioCompression          = "AudioCompression"
	AudioLimitter             = "AudioLimitter"
	AudioGain                 = "AudioGain"
	AudioCompressionThreshold = "AudioCompressionThreshold"
)

// Keys lists every setting in panel order.
var Keys = []Key{
	{Name: Start, Label: "Start Transmitter", Kind: KindSelect, Default: "FPPDStart",
		Options: []string{"FPPDStart", "PlaylistStart", "RDSOnly"}},
	{Name: Stop, Label: "Stop Transmitter", Kind: KindSelect, Default: "Never",
		Options: []string{"PlaylistStop", "Never"}},
	{Name: Connection, Label: "Connection", Kind: KindSelect, Default: "USB",
		Options: []string{"USB", "I2C"}},
	{Name: ResetPin, Label: "I2C Reset Pin", Kind: KindGPIO, Default: "4",
		Help: "GPIO wired to the Si4713 reset line, I2C connection only."},
	{Name: Frequency, Label: "Frequency (MHz)", Kind: KindDecimal, Default: "100.10",
		Min: 76, Max: 108, Step: 0.05},
	{Name: Power, Label: "Power (dBuV)", Kind: KindInt, Default: "110", Min: 88, Max: 120},
	{Name: Preemphasis, Label: "Preemphasis", Kind: KindSelect, Default: "75us",
		Options: []string{"50us", "75us"}, Help: "75us in the USA, 50us in Europe and elsewhere."},
	{Name: AntCap, Label: "Antenna Tuning Capacitor", Kind: KindInt, Default: "0", Min: 0, Max: 191,
		Help: "0 selects automatic tuning."},
	{Name: EnableRDS, Label: "Enable RDS", Kind: KindSelect, Default: "False",
		Options: []string{"True", "False"}},
	{Name: StationText, Label: "RDS Station Text", Kind: KindText, Default: "Merry   Christ- mas",
		EmptyAllowed: true, Help: "Sent in 8 character fragments."},
	{Name: RDSTextText, Label: "RDS Text", Kind: KindText, Default: "[{Artist} - {Title}]",
		EmptyAllowed: true, Help: "{Artist} and {Title} are replaced, [...] is dropped when nothing is playing."},
	{Name: Pty, Label: "Program Type", Kind: KindInt, Default: "2", Min: 0, Max: 31},
	{Name: EnableVolumeChangeHack, Label: "Volume Change Workaround", Kind: KindSelect, Default: "0",
		Options: []string{"0", "1"}},
	{Name: AudioCompression, Label: "Audio Compression", Kind: KindSelect, Default: "True",
		Options: []string{"True", "False"}},
	{Name: AudioLimitter, Label: "Audio Limiter", Kind: KindSelect, Default: "True",
		Options: []string{"True", "False"}},
	{Name: AudioGain, Label: "Audio Gain (dB)", Kind: KindInt, Default: "5", Min: 0, Max: 20},
	{Name: AudioCompressionThreshold, Label: "Compression Threshold (dBFS)", Kind: KindInt, Default: "-15",
		Min: -40, Max: 0},
}

// ErrUnknownKey is returned for names outside Keys.
var ErrUnknownKey = errors.New("unknown setting")

// ValidationError reports a rejected value.
type ValidationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %q for %s: %s", e.Value, e.Key, e.Reason)
}

// Lookup returns the key named name.
func Lookup(name string) (Key, bool) {
	for _, k := range Keys {
		if k.Name == name {
			return k, true
		}
	}
	return Key{}, false
}

// KeysFor returns the catalog with the Connection options narrowed to the
// connections p supports. Profiles that list none of the catalog's
// options get the full catalog.
func KeysFor(p hardware.Profile) []Key {
	keys := make([]Key, len(Keys))
	copy(keys, Keys)
	for i, k := range keys {
		if k.Name != Connection {
			continue
		}
		var opts []string
		for _, opt := range k.Options {
			for _, c := range p.Connections {
				if strings.EqualFold(opt, c) {
					opts = append(opts, opt)
					break
				}
			}
		}
		if len(opts) == 0 {
			break
		}
		k.Options = opts
		if !containsFold(opts, k.Default) {
			k.Default = opts[0]
		}
		keys[i] = k
	}
	return keys
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// Defaults returns the default of every key, with the profile's overrides
// and its reset pin for platform applied.
func Defaults(p hardware.Profile, platform string) map[string]string {
	d := make(map[string]string, len(Keys))
	for _, k := range Keys {
		d[k.Name] = k.Default
	}
	if len(p.ResetPin) > 0 {
		d[ResetPin] = strconv.Itoa(p.DefaultResetPin(platform))
	}
	for name, v := range p.Settings {
		if _, ok := d[name]; ok {
			d[name] = v
		}
	}
	return d
}

// Normalize validates value for k and returns its canonical form.
func (k Key) Normalize(value string) (string, error) {
	v := strings.TrimSpace(value)
	if k.Kind == KindText {
		// Free text keeps its spacing; station text is space padded.
		v = value
	}
	if v == "" {
		if k.EmptyAllowed {
			return "", nil
		}
		return "", &ValidationError{Key: k.Name, Value: value, Reason: "value is required"}
	}

	switch k.Kind {
	case KindSelect:
		for _, opt := range k.Options {
			if strings.EqualFold(opt, v) {
				return opt, nil
			}
		}
		return "", &ValidationError{Key: k.Name, Value: value, Reason: "must be one of " + strings.Join(k.Options, ", ")}

	case KindInt:
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", &ValidationError{Key: k.Name, Value: value, Reason: "not an integer"}
		}
		if float64(n) < k.Min || float64(n) > k.Max {
			return "", &ValidationError{Key: k.Name, Value: value, Reason: fmt.Sprintf("must be between %g and %g", k.Min, k.Max)}
		}
		return strconv.Itoa(n), nil

	case KindDecimal:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return "", &ValidationError{Key: k.Name, Value: value, Reason: "not a number"}
		}
		if f < k.Min || f > k.Max {
			return "", &ValidationError{Key: k.Name, Value: value, Reason: fmt.Sprintf("must be between %g and %g", k.Min, k.Max)}
		}
		if k.Step > 0 {
			steps := f / k.Step
			if math.Abs(steps-math.Round(steps)) > 1e-6 {
				return "", &ValidationError{Key: k.Name, Value: value, Reason: fmt.Sprintf("must be a multiple of %g", k.Step)}
			}
		}
		return strconv.FormatFloat(f, 'f', 2, 64), nil

	case KindGPIO:
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return "", &ValidationError{Key: k.Name, Value: value, Reason: "not a GPIO number"}
		}
		return strconv.Itoa(n), nil
	}
	return v, nil
}

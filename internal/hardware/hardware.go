// Package hardware holds the profiles of supported FM transmitters.
package hardware

import (
	"embed"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var profilesFS embed.FS

// DefaultProfile is the transmitter assumed when none is configured.
const DefaultProfile = "V-FMT212R"

// Profile describes one supported transmitter.
type Profile struct {
	Name        string            `yaml:"name" json:"name"`
	Vendor      string            `yaml:"vendor" json:"vendor"`
	Model       string            `yaml:"model" json:"model"`
	Chip        string            `yaml:"chip" json:"chip"`
	CardMatch   string            `yaml:"card_match" json:"card_match"`
	Connections []string          `yaml:"connections" json:"connections"`
	ResetPin    map[string]int    `yaml:"reset_pin" json:"reset_pin"`
	Settings    map[string]string `yaml:"settings" json:"settings"`
}

// DisplayName is the vendor and model as shown on the panel.
func (p Profile) DisplayName() string {
	return strings.TrimSpace(p.Vendor + " " + p.Model)
}

// HasUSBAudio reports whether the device shows up as an ALSA card.
func (p Profile) HasUSBAudio() bool {
	return p.CardMatch != ""
}

// DefaultResetPin returns the reset GPIO for platform, falling back to the
// profile's "default" entry.
func (p Profile) DefaultResetPin(platform string) int {
	if pin, ok := p.ResetPin[strings.ToLower(platform)]; ok {
		return pin
	}
	return p.ResetPin["default"]
}

// Catalog is the set of loaded profiles keyed by name.
type Catalog struct {
	profiles map[string]Profile
}

// Load parses the embedded profiles.
func Load() (*Catalog, error) {
	entries, err := profilesFS.ReadDir("profiles")
	if err != nil {
		return nil, fmt.Errorf("reading profiles: %w", err)
	}

	c := &Catalog{profiles: make(map[string]Profile)}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := profilesFS.ReadFile("profiles/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading profile %s: %w", e.Name(), err)
		}
		p, err := parseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", e.Name(), err)
		}
		c.profiles[p.Name] = p
	}
	return c, nil
}

func parseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parsing YAML: %w", err)
	}
	if p.Name == "" {
		return Profile{}, fmt.Errorf("profile must have a name")
	}
	if len(p.Connections) == 0 {
		return Profile{}, fmt.Errorf("profile %s lists no connections", p.Name)
	}
	return p, nil
}

// Get returns the named profile.
func (c *Catalog) Get(name string) (Profile, bool) {
	p, ok := c.profiles[name]
	return p, ok
}

// Names returns the profile names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.profiles))
	for n := range c.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Default returns the V-FMT212R profile.
func (c *Catalog) Default() Profile {
	return c.profiles[DefaultProfile]
}

// Resolve returns the named profile, or the default one when name is empty.
func (c *Catalog) Resolve(name string) (Profile, error) {
	if name == "" {
		return c.Default(), nil
	}
	p, ok := c.Get(name)
	if !ok {
		return Profile{}, fmt.Errorf("unknown hardware profile %q (known: %s)", name, strings.Join(c.Names(), ", "))
	}
	return p, nil
}

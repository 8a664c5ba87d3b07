package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Alsa     AlsaConfig
	Hardware HardwareConfig
	Host     HostConfig
	Serial   SerialConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type AlsaConfig struct {
	CardsPath    string
	ConfPath     string
	AsoundrcPath string
}

type HardwareConfig struct {
	Profile  string
	Platform string
}

type HostConfig struct {
	GPIOURL string
}

type SerialConfig struct {
	Pattern string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 32,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Alsa: AlsaConfig{
			CardsPath:    "/proc/asound/cards",
			ConfPath:     "/usr/share/alsa/alsa.conf",
			AsoundrcPath: defaultAsoundrc(),
		},
		Hardware: HardwareConfig{
			Profile:  "V-FMT212R",
			Platform: "default",
		},
		Host: HostConfig{
			GPIOURL: "http://127.0.0.1/api/gpio",
		},
		Serial: SerialConfig{
			Pattern: "/dev/ttyUSB*",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the TOML file at
// $XDG_CONFIG_HOME/vastfmt/config.toml, then applies VASTFMT_* environment
// overrides. A missing file leaves the defaults in place.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "vastfmt-data"
		}
	}
	return filepath.Join(dir, "vastfmt")
}

func defaultAsoundrc() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".asoundrc")
	}
	return ".asoundrc"
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "vastfmt", "config.toml")
}

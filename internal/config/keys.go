package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "VASTFMT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "VASTFMT_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.api_token", typ: kString, env: "VASTFMT_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VASTFMT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "alsa.cards_path", typ: kString, env: "VASTFMT_ALSA_CARDS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Alsa.CardsPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Alsa.CardsPath },
	},
	{
		key: "alsa.conf_path", typ: kString, env: "VASTFMT_ALSA_CONF_PATH",
		apply:   func(cfg *Config, v any) { cfg.Alsa.ConfPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Alsa.ConfPath },
	},
	{
		key: "alsa.asoundrc_path", typ: kString, env: "VASTFMT_ALSA_ASOUNDRC_PATH",
		apply:   func(cfg *Config, v any) { cfg.Alsa.AsoundrcPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Alsa.AsoundrcPath },
	},
	{
		key: "hardware.profile", typ: kString, env: "VASTFMT_HARDWARE_PROFILE",
		apply:   func(cfg *Config, v any) { cfg.Hardware.Profile = v.(string) },
		extract: func(cfg Config) any { return cfg.Hardware.Profile },
	},
	{
		key: "hardware.platform", typ: kString, env: "VASTFMT_HARDWARE_PLATFORM",
		apply:   func(cfg *Config, v any) { cfg.Hardware.Platform = v.(string) },
		extract: func(cfg Config) any { return cfg.Hardware.Platform },
	},
	{
		key: "host.gpio_url", typ: kString, env: "VASTFMT_HOST_GPIO_URL",
		apply:   func(cfg *Config, v any) { cfg.Host.GPIOURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Host.GPIOURL },
	},
	{
		key: "serial.pattern", typ: kString, env: "VASTFMT_SERIAL_PATTERN",
		apply:   func(cfg *Config, v any) { cfg.Serial.Pattern = v.(string) },
		extract: func(cfg Config) any { return cfg.Serial.Pattern },
	},
	{
		key: "log.level", typ: kString, env: "VASTFMT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

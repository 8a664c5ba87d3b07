package config

import (
	"fmt"
	"os"
	"strconv"
)

// KeyInfo is one row of `vastfmt config show`.
type KeyInfo struct {
	Key        string
	EnvVar     string
	Value      string
	Default    string
	Overridden bool // EnvVar is set and wins over the file
}

// ShowAll lists the effective value of every non-secret key in cfg.
func ShowAll(cfg Config) []KeyInfo {
	def := defaults()
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:        s.key,
			EnvVar:     s.env,
			Value:      fmt.Sprint(s.extract(cfg)),
			Default:    fmt.Sprint(s.extract(def)),
			Overridden: s.env != "" && os.Getenv(s.env) != "",
		})
	}
	return result
}

// SetKey writes key to the config file.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), key, value)
}

func setKeyWith(b ConfigBackend, key, value string) error {
	s, err := writableSpec(key)
	if err != nil {
		return err
	}
	if s.typ == kInt {
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		return b.SetInt(key, i)
	}
	return b.SetString(key, value)
}

// UnsetKey removes key from the config file so its default applies.
func UnsetKey(key string) error {
	return unsetKeyWith(newFileBackend(configFilePath()), key)
}

func unsetKeyWith(b ConfigBackend, key string) error {
	if _, err := writableSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

func writableSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the names SetKey and UnsetKey accept.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// Package serial lists the serial ports the transmitter can be attached to.
package serial

import (
	"fmt"
	"path/filepath"
	"sort"
)

// DefaultPattern matches USB serial adapters.
const DefaultPattern = "/dev/ttyUSB*"

// ListDevices returns the sorted paths matching pattern. No match is an
// empty list, not an error.
func ListDevices(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("listing serial devices %q: %w", pattern, err)
	}
	if matches == nil {
		return []string{}, nil
	}
	sort.Strings(matches)
	return matches, nil
}

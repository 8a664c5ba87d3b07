package alsa

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	defaultsCard  = regexp.MustCompile(`^\s*defaults\.pcm\.card\s+(\d+)`)
	cardDirective = regexp.MustCompile(`card\s+(\d+)`)
)

// DefaultPCMCard returns the defaults.pcm.card value from the system
// alsa.conf, or 0 when the directive is absent.
func DefaultPCMCard(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening alsa.conf: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if m := defaultsCard.FindStringSubmatch(sc.Text()); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, fmt.Errorf("parsing defaults.pcm.card %q: %w", m[1], err)
			}
			return n, nil
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("reading alsa.conf: %w", err)
	}
	return 0, nil
}

// RcCard returns the first card directive of an .asoundrc. ok is false when
// the file exists but has no directive. A missing file is reported as an
// os.ErrNotExist error.
func RcCard(path string) (card int, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if isComment(line) {
			continue
		}
		if m := cardDirective.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, false, fmt.Errorf("parsing card directive %q: %w", m[1], err)
			}
			return n, true, nil
		}
	}
	return 0, false, nil
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

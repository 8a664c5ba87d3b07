package alsa

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// NoCard is returned by DetectCard when no card matches.
const NoCard = -1

// Card is one entry of /proc/asound/cards.
type Card struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Driver   string `json:"driver"`
	Name     string `json:"name"`
	LongName string `json:"long_name,omitempty"`
}

// header matches lines like " 1 [Vast           ]: USB-Audio - V-FMT212R".
var header = regexp.MustCompile(`^\s*(\d+)\s+\[([^\]]*)\]:\s*(.*)$`)

// ParseCards parses the kernel's sound card list.
func ParseCards(r io.Reader) ([]Card, error) {
	var cards []Card
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if m := header.FindStringSubmatch(line); m != nil {
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("parsing card index %q: %w", m[1], err)
			}
			c := Card{Index: idx, ID: strings.TrimSpace(m[2])}
			driver, name, ok := strings.Cut(m[3], " - ")
			if ok {
				c.Driver = strings.TrimSpace(driver)
				c.Name = strings.TrimSpace(name)
			} else {
				c.Name = strings.TrimSpace(m[3])
			}
			cards = append(cards, c)
			continue
		}
		// Continuation line carries the long name of the previous card.
		if n := len(cards); n > 0 && cards[n-1].LongName == "" && strings.TrimSpace(line) != "" {
			cards[n-1].LongName = strings.TrimSpace(line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading card list: %w", err)
	}
	return cards, nil
}

// ReadCards reads and parses the card list at path.
func ReadCards(path string) ([]Card, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening card list: %w", err)
	}
	defer f.Close()
	return ParseCards(f)
}

// FindCard returns the first card whose header (id, driver or name)
// contains match, compared case-insensitively. Long names are not searched.
func FindCard(cards []Card, match string) (Card, bool) {
	needle := strings.ToLower(strings.TrimSpace(match))
	if needle == "" {
		return Card{}, false
	}
	for _, c := range cards {
		hay := strings.ToLower(c.ID + " " + c.Driver + " " + c.Name)
		if strings.Contains(hay, needle) {
			return c, true
		}
	}
	return Card{}, false
}

// DetectCard returns the index of the first card matching match, or NoCard.
func DetectCard(path, match string) (int, error) {
	cards, err := ReadCards(path)
	if err != nil {
		return NoCard, err
	}
	c, ok := FindCard(cards, match)
	if !ok {
		return NoCard, nil
	}
	return c.Index, nil
}

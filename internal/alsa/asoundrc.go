package alsa

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Outcome reports what SetCard did to the file.
type Outcome int

const (
	Unchanged Outcome = iota
	Updated
	Created
	// Missing means the file does not exist and creation was not requested.
	Missing
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Updated:
		return "updated"
	case Created:
		return "created"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// RenderStanza returns the default PCM stanza pointing at card.
func RenderStanza(card int) string {
	return fmt.Sprintf("pcm.!default {\n\ttype hw\n\tcard %d\n\tdevice 0\n}\n", card)
}

// SetCard points every card directive in the ALSA user config at card.
// When the file is absent it is created with the default stanza if create
// is set; otherwise nothing is written and Missing is returned.
func SetCard(path string, card int, create bool) (Outcome, error) {
	if card < 0 {
		return Unchanged, fmt.Errorf("invalid card index %d", card)
	}

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		if !create {
			return Missing, nil
		}
		if err := writeAtomic(path, []byte(RenderStanza(card)), 0o644); err != nil {
			return Unchanged, fmt.Errorf("creating %s: %w", path, err)
		}
		return Created, nil
	}
	if err != nil {
		return Unchanged, fmt.Errorf("stat %s: %w", path, err)
	}

	old, err := os.ReadFile(path)
	if err != nil {
		return Unchanged, fmt.Errorf("reading %s: %w", path, err)
	}
	updated := rewriteCard(string(old), card)
	if updated == string(old) {
		return Unchanged, nil
	}
	if err := writeAtomic(path, []byte(updated), info.Mode().Perm()); err != nil {
		return Unchanged, fmt.Errorf("writing %s: %w", path, err)
	}
	return Updated, nil
}

// rewriteCard replaces the index of each card directive outside comments.
func rewriteCard(content string, card int) string {
	lines := strings.Split(content, "\n")
	repl := "card " + strconv.Itoa(card)
	for i, line := range lines {
		if isComment(line) {
			continue
		}
		lines[i] = cardDirective.ReplaceAllString(line, repl)
	}
	return strings.Join(lines, "\n")
}

func writeAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Package audio switches the default ALSA output between the on-board
// sound card and the FM transmitter.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/kalambet/vastfmt/internal/alsa"
)

// Toggle states accepted by Router.Toggle.
const (
	StateEnabled  = "enabled"
	StateDisabled = "disabled"
)

// Reply sent when disabling with no ALSA user config present.
const ReplyDisabledNoFile = "disabled, no file"

// ErrInvalidState is returned for toggle states other than enabled/disabled.
var ErrInvalidState = errors.New("state must be \"enabled\" or \"disabled\"")

// Detection is the result of scanning the sound card list.
type Detection struct {
	Present bool      `json:"present"`
	Index   int       `json:"index"`
	Card    alsa.Card `json:"card"`
}

// Routing describes where the default PCM device currently points.
type Routing struct {
	Enabled bool   `json:"enabled"`
	Card    int    `json:"card"`
	Source  string `json:"source"`
}

// RouterConfig holds the file locations and the card match string.
type RouterConfig struct {
	CardsPath    string
	AlsaConfPath string
	RcPath       string
	Match        string
	Logger       *slog.Logger
}

// Router detects the transmitter and rewrites the ALSA user config.
type Router struct {
	cardsPath    string
	alsaConfPath string
	rcPath       string
	match        string
	logger       *slog.Logger
}

// NewRouter creates a Router. A nil Logger uses slog.Default().
func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cardsPath:    cfg.CardsPath,
		alsaConfPath: cfg.AlsaConfPath,
		rcPath:       cfg.RcPath,
		match:        cfg.Match,
		logger:       logger,
	}
}

// Detect scans the card list. An unreadable card list is logged and
// reported as not detected.
func (r *Router) Detect(ctx context.Context) (Detection, error) {
	if err := ctx.Err(); err != nil {
		return Detection{}, err
	}
	if r.match == "" {
		return Detection{Index: alsa.NoCard}, nil
	}

	cards, err := alsa.ReadCards(r.cardsPath)
	if err != nil {
		r.logger.Warn("reading sound cards failed, assuming transmitter absent", "path", r.cardsPath, "error", err)
		return Detection{Index: alsa.NoCard}, nil
	}
	c, ok := alsa.FindCard(cards, r.match)
	if !ok {
		return Detection{Index: alsa.NoCard}, nil
	}
	return Detection{Present: true, Index: c.Index, Card: c}, nil
}

// Status reports the current routing. The .asoundrc directive wins over
// alsa.conf's defaults.pcm.card.
func (r *Router) Status(ctx context.Context) (Routing, error) {
	if err := ctx.Err(); err != nil {
		return Routing{}, err
	}

	card, ok, err := alsa.RcCard(r.rcPath)
	switch {
	case err == nil && ok:
		return Routing{Enabled: card != 0, Card: card, Source: "asoundrc"}, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		r.logger.Warn("reading ALSA user config failed", "path", r.rcPath, "error", err)
	}

	card, err = alsa.DefaultPCMCard(r.alsaConfPath)
	if err != nil {
		r.logger.Warn("reading alsa.conf failed, assuming card 0", "path", r.alsaConfPath, "error", err)
		card = 0
	}
	return Routing{Enabled: card != 0, Card: card, Source: "alsa.conf"}, nil
}

// Toggle routes audio to the transmitter ("enabled") or back to card 0
// ("disabled") and returns the status text for the caller.
func (r *Router) Toggle(ctx context.Context, state string) (string, error) {
	switch state {
	case StateEnabled:
		det, err := r.Detect(ctx)
		if err != nil {
			return "", err
		}
		card := det.Index
		if !det.Present {
			r.logger.Warn("transmitter not detected, routing to card 0", "match", r.match)
			card = 0
		}
		out, err := alsa.SetCard(r.rcPath, card, true)
		if err != nil {
			return "", fmt.Errorf("enabling FM audio: %w", err)
		}
		r.logger.Info("FM audio enabled", "card", card, "asoundrc", out.String())
		return StateEnabled, nil

	case StateDisabled:
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out, err := alsa.SetCard(r.rcPath, 0, false)
		if err != nil {
			return "", fmt.Errorf("disabling FM audio: %w", err)
		}
		r.logger.Info("FM audio disabled", "asoundrc", out.String())
		if out == alsa.Missing {
			return ReplyDisabledNoFile, nil
		}
		return StateDisabled, nil
	}
	return "", ErrInvalidState
}

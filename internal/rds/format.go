// Package rds formats RDS station and radio text and renders the helper
// script that drives the external rds binary.
package rds

import "strings"

// StationWidth is the size of one RDS programme service name fragment.
const StationWidth = 8

const (
	artistTag = "{Artist}"
	titleTag  = "{Title}"
)

// Text is a formatted radio text with the offsets of the substituted
// artist and title (-1 when absent).
type Text struct {
	Text      string
	ArtistIdx int
	TitleIdx  int
}

// Format expands {Artist} and {Title} in template. A [...] section is
// dropped entirely when both artist and title are empty; otherwise only the
// brackets are removed. Unknown {...} sequences are kept literally.
func Format(template, artist, title string) Text {
	var b strings.Builder
	out := Text{ArtistIdx: -1, TitleIdx: -1}
	idle := artist == "" && title == ""

	for i := 0; i < len(template); i++ {
		switch c := template[i]; c {
		case '[':
			if idle {
				end := strings.IndexByte(template[i:], ']')
				if end < 0 {
					i = len(template)
				} else {
					i += end
				}
			}
		case ']':
		case '{':
			rest := template[i:]
			switch {
			case strings.HasPrefix(rest, artistTag):
				out.ArtistIdx = b.Len()
				b.WriteString(artist)
				i += len(artistTag) - 1
			case strings.HasPrefix(rest, titleTag):
				out.TitleIdx = b.Len()
				b.WriteString(title)
				i += len(titleTag) - 1
			default:
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	out.Text = b.String()
	return out
}

// StationFragments splits text into space padded 8 character fragments
// for the rotating station name. Empty text yields one blank fragment.
func StationFragments(text string) []string {
	var frags []string
	for len(text) > 0 {
		n := StationWidth
		if len(text) < n {
			n = len(text)
		}
		frags = append(frags, padRight(text[:n], StationWidth))
		text = text[n:]
	}
	if len(frags) == 0 {
		frags = append(frags, strings.Repeat(" ", StationWidth))
	}
	return frags
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

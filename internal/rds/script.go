package rds

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

// Defaults used by the sample script on the settings panel.
const (
	DefaultBinary  = "/opt/fpp/plugins/vastfmt/bin/rds"
	DefaultLogPath = "/home/pi/media/logs/vastfmt_rds.log"
)

// ErrStationTooLong is returned when the station name exceeds StationWidth.
var ErrStationTooLong = errors.New("station cannot be more than 8 characters")

// ErrInvalidFrequency is returned when the frequency is not a number.
var ErrInvalidFrequency = errors.New("invalid frequency")

// ScriptParams fills the sample RDS script.
type ScriptParams struct {
	Frequency string
	Artist    string
	Title     string
	Station   string
	Binary    string
	LogPath   string
}

var scriptTmpl = template.Must(template.New("rds").Funcs(template.FuncMap{"quote": shellQuote}).Parse(`#!/bin/sh

##### EDIT HERE #####

FREQUENCY={{.Frequency}}

ARTIST={{quote .Artist}}
TITLE={{quote .Title}}

# Station cannot be more than 8 characters
STATION={{quote .Station}}

##### DO NOT EDIT PAST THIS #####

sudo {{.Binary}} -vvvvv -t \
     -f $FREQUENCY \
     --artist "$ARTIST" \
     --title "$TITLE" \
     --rds-station "$STATION" > {{.LogPath}} 2>&1 &
`))

// Script renders the sample shell script that starts the rds binary.
func Script(p ScriptParams) (string, error) {
	if len(p.Station) > StationWidth {
		return "", fmt.Errorf("%w: %q", ErrStationTooLong, p.Station)
	}
	if p.Frequency == "" {
		p.Frequency = "87.9"
	}
	if _, err := strconv.ParseFloat(p.Frequency, 64); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, p.Frequency)
	}
	if p.Binary == "" {
		p.Binary = DefaultBinary
	}
	if p.LogPath == "" {
		p.LogPath = DefaultLogPath
	}

	var b strings.Builder
	if err := scriptTmpl.Execute(&b, p); err != nil {
		return "", fmt.Errorf("rendering script: %w", err)
	}
	return b.String(), nil
}

// shellQuote wraps s in double quotes, escaping characters the shell
// expands inside them.
func shellQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return `"` + r.Replace(s) + `"`
}

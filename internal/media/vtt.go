package media

import (
	"bufio"
	"html"
	"io"
	"regexp"
	"strings"
)

var (
	reTag       = regexp.MustCompile(`<[^>]*>`)
	reCueNumber = regexp.MustCompile(`^\d+$`)
)

// VTTToText reduces a WebVTT caption file to its spoken text on a single line. Cue timings, headers, notes and
// markup are dropped; consecutive repeats produced by rolling auto captions are collapsed.
func VTTToText(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var out []string
	inNote := false
	last := ""
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" {
			inNote = false
			continue
		}
		switch {
		case inNote:
			continue
		case strings.HasPrefix(line, "NOTE"), strings.HasPrefix(line, "STYLE"), strings.HasPrefix(line, "REGION"):
			inNote = true
			continue
		case strings.HasPrefix(line, "WEBVTT"), strings.HasPrefix(line, "Kind:"), strings.HasPrefix(line, "Language:"):
			continue
		case strings.Contains(line, "-->"), reCueNumber.MatchString(line):
			continue
		}
		text := strings.TrimSpace(html.UnescapeString(reTag.ReplaceAllString(line, "")))
		text = strings.Join(strings.Fields(text), " ")
		if text == "" || text == last {
			continue
		}
		out = append(out, text)
		last = text
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return strings.Join(out, " "), nil
}

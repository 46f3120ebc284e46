// Package captions loads WebVTT and SRT caption tracks and answers which
// cue is visible at a playback position.
package captions

import (
	"bufio"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"media-resolver-go/pkg/types"
)

// Formats.
const (
	FormatVTT = "vtt"
	FormatSRT = "srt"
)

var tagRe = regexp.MustCompile(`<[^>]+>`)

// Parse parses a caption file. An empty format is detected from the
// WEBVTT header. Malformed cues are skipped; the result is sorted by start.
func Parse(data, format string) ([]types.CaptionCue, error) {
	data = strings.TrimPrefix(data, "\ufeff")
	if format == "" {
		format = DetectFormat(data)
	}

	switch strings.ToLower(format) {
	case FormatVTT, "webvtt":
		return parseBlocks(data, '.'), nil
	case FormatSRT, "subrip":
		return parseBlocks(data, ','), nil
	default:
		return nil, fmt.Errorf("unsupported caption format %q", format)
	}
}

// DetectFormat guesses the format from the file header.
func DetectFormat(data string) string {
	if strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(data, "\ufeff")), "WEBVTT") {
		return FormatVTT
	}
	return FormatSRT
}

// parseBlocks walks blank-line separated blocks, finds the timing line in
// each and takes the following lines as cue text. The VTT header, NOTE,
// STYLE and REGION blocks have no timing line and fall out naturally.
func parseBlocks(data string, fracSep byte) []types.CaptionCue {
	var cues []types.CaptionCue
	var block []string

	flush := func() {
		defer func() { block = block[:0] }()
		for i, line := range block {
			if !strings.Contains(line, "-->") {
				continue
			}
			start, end, ok := parseTiming(line, fracSep)
			if !ok || end <= start {
				return
			}
			text := cleanText(block[i+1:])
			if text == "" {
				return
			}
			cues = append(cues, types.CaptionCue{StartMillis: start, EndMillis: end, Text: text})
			return
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(strings.ReplaceAll(data, "\r\n", "\n")))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			flush()
			continue
		}
		block = append(block, line)
	}
	flush()

	slices.SortStableFunc(cues, func(a, b types.CaptionCue) int {
		switch {
		case a.StartMillis < b.StartMillis:
			return -1
		case a.StartMillis > b.StartMillis:
			return 1
		}
		return 0
	})
	return cues
}

func parseTiming(line string, fracSep byte) (int64, int64, bool) {
	left, right, ok := strings.Cut(line, "-->")
	if !ok {
		return 0, 0, false
	}
	// VTT cue settings follow the end timestamp.
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return 0, 0, false
	}
	start, ok1 := parseTimestamp(strings.TrimSpace(left), fracSep)
	end, ok2 := parseTimestamp(fields[0], fracSep)
	return start, end, ok1 && ok2
}

// parseTimestamp parses hh:mm:ss.mmm or mm:ss.mmm (',' for SRT). Either
// separator is accepted since files in the wild mix them up.
func parseTimestamp(s string, fracSep byte) (int64, bool) {
	s = strings.Replace(s, string(fracSep), ".", 1)
	s = strings.Replace(s, ",", ".", 1)

	clock, frac, _ := strings.Cut(s, ".")
	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}

	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	ms := total * 1000

	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		n, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, false
		}
		ms += n
	}
	return ms, true
}

func cleanText(lines []string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(tagRe.ReplaceAllString(l, ""))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// CueAt returns the cue visible at positionMillis. When cues overlap, the
// one that started last wins.
func CueAt(cues []types.CaptionCue, positionMillis int64) (types.CaptionCue, bool) {
	// First cue starting after the position.
	i, _ := slices.BinarySearchFunc(cues, positionMillis+1, func(c types.CaptionCue, target int64) int {
		switch {
		case c.StartMillis < target:
			return -1
		case c.StartMillis > target:
			return 1
		}
		return 0
	})
	for j := i - 1; j >= 0; j-- {
		if cues[j].EndMillis > positionMillis {
			return cues[j], true
		}
	}
	return types.CaptionCue{}, false
}

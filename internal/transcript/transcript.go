// Package transcript handles the sjson/srt transcript artifacts kept in
// the content store. "sjson" is the JSON envelope {start, end, text} of
// equal-length arrays with millisecond timestamps; "srt" is SubRip.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mind-engage/capa-engine/internal/contentstore"
)

// Format names accepted by Convert.
const (
	FormatSRT   = "srt"
	FormatSJSON = "sjson"
	FormatTXT   = "txt"
)

// ErrNotImplemented marks the srt -> sjson direction of Convert; use
// SJSONFromSRT at ingest time instead.
var ErrNotImplemented = errors.New("transcript: conversion not implemented")

// SJSON is the stored transcript envelope.
type SJSON struct {
	Start []int    `json:"start"` // ms
	End   []int    `json:"end"`   // ms
	Text  []string `json:"text"`
}

// Validate checks the equal-length invariant.
func (s *SJSON) Validate() error {
	if len(s.Start) != len(s.End) || len(s.Start) != len(s.Text) {
		return fmt.Errorf("transcript: sjson arrays must have equal length (%d/%d/%d)",
			len(s.Start), len(s.End), len(s.Text))
	}
	return nil
}

// Filename returns the stored transcript name for a subtitle id:
// subs_<id>.srt.sjson for English, <lang>_subs_<id>.srt.sjson otherwise.
func Filename(subsID, lang string) string {
	if lang == "" || lang == "en" {
		return fmt.Sprintf("subs_%s.srt.sjson", subsID)
	}
	return fmt.Sprintf("%s_subs_%s.srt.sjson", lang, subsID)
}

// Locate computes the content-store location of a transcript.
func Locate(courseKey, subsID, lang string) contentstore.Location {
	return contentstore.Locate(courseKey, Filename(subsID, lang))
}

// Convert translates transcript content between formats. Supported:
// srt -> txt, sjson -> txt, sjson -> srt. The srt -> sjson direction
// returns ErrNotImplemented.
func Convert(content []byte, from, to string) ([]byte, error) {
	if from == to {
		return content, nil
	}
	switch from {
	case FormatSRT:
		switch to {
		case FormatTXT:
			cues, err := ParseSRT(content)
			if err != nil {
				return nil, err
			}
			lines := make([]string, len(cues))
			for i, c := range cues {
				lines[i] = c.Text
			}
			return []byte(strings.Join(lines, "\n")), nil
		case FormatSJSON:
			return nil, ErrNotImplemented
		}
	case FormatSJSON:
		var s SJSON
		if err := json.Unmarshal(content, &s); err != nil {
			return nil, fmt.Errorf("transcript: bad sjson: %w", err)
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		switch to {
		case FormatTXT:
			return []byte(strings.Join(s.Text, "\n")), nil
		case FormatSRT:
			return SRTFromSJSON(&s, 1, 1)
		}
	}
	return nil, fmt.Errorf("transcript: unsupported conversion %s -> %s", from, to)
}

// Cue is one SRT subtitle.
type Cue struct {
	Start int // ms
	End   int // ms
	Text  string
}

// ParseSRT parses SubRip content. Multi-line cue text is joined with
// newlines.
func ParseSRT(content []byte) ([]Cue, error) {
	var cues []Cue
	blocks := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n\n")
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 || strings.TrimSpace(lines[0]) == "" {
			continue
		}
		// lines[0] is the sequence number, lines[1] the timing
		start, end, err := parseTiming(lines[1])
		if err != nil {
			return nil, err
		}
		cues = append(cues, Cue{Start: start, End: end, Text: strings.Join(lines[2:], "\n")})
	}
	if len(cues) == 0 {
		return nil, errors.New("transcript: empty srt")
	}
	return cues, nil
}

func parseTiming(line string) (start, end int, err error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("transcript: bad srt timing line %q", line)
	}
	start, err = parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	end, err = parseTimestamp(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp reads HH:MM:SS,mmm into milliseconds.
func parseTimestamp(ts string) (int, error) {
	var h, m, s, ms int
	if _, err := fmt.Sscanf(ts, "%d:%d:%d,%d", &h, &m, &s, &ms); err != nil {
		return 0, fmt.Errorf("transcript: bad timestamp %q", ts)
	}
	return ((h*60+m)*60+s)*1000 + ms, nil
}

func formatTimestamp(ms int) string {
	h := ms / 3600000
	m := ms % 3600000 / 60000
	s := ms % 60000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// SJSONFromSRT builds the stored envelope from SubRip content. This is the
// ingest path; Convert deliberately does not cover it.
func SJSONFromSRT(content []byte) (*SJSON, error) {
	cues, err := ParseSRT(content)
	if err != nil {
		return nil, err
	}
	out := &SJSON{
		Start: make([]int, len(cues)),
		End:   make([]int, len(cues)),
		Text:  make([]string, len(cues)),
	}
	for i, c := range cues {
		out.Start[i] = c.Start
		out.End[i] = c.End
		out.Text[i] = c.Text
	}
	return out, nil
}

// SRTFromSJSON renders SubRip at a target speed: every timestamp is scaled
// by target/source and rounded to the nearest millisecond.
func SRTFromSJSON(s *SJSON, sourceSpeed, targetSpeed float64) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if sourceSpeed <= 0 || targetSpeed <= 0 {
		return nil, fmt.Errorf("transcript: speeds must be positive (%v -> %v)", sourceSpeed, targetSpeed)
	}
	ratio := targetSpeed / sourceSpeed
	var b strings.Builder
	for i := range s.Start {
		start := int(math.Round(float64(s.Start[i]) * ratio))
		end := int(math.Round(float64(s.End[i]) * ratio))
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("\n")
		b.WriteString(formatTimestamp(start))
		b.WriteString(" --> ")
		b.WriteString(formatTimestamp(end))
		b.WriteString("\n")
		b.WriteString(s.Text[i])
		b.WriteString("\n\n")
	}
	return []byte(b.String()), nil
}

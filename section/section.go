// Package section finds collapsible section markers in a trace.
//
// A section is delimited by
//
//	section_start:<unix_ts>:<name>\r\x1b[0K
//	section_end:<unix_ts>:<name>\r\x1b[0K
//
// Offsets are byte offsets into the raw trace, so multi-byte UTF-8
// sequences are never split by a renderer slicing on them.
package section

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"regexp"
	"strconv"
)

// markerPattern matches a complete marker. The clear-line sequence may also
// precede the marker.
var markerPattern = regexp.MustCompile(`(?:\x1b\[0?K)?section_(start|end):(\d+):([a-zA-Z0-9_.-]+)\r\x1b\[0?K`)

var markerHint = []byte("section_")

// Section is one closed section of a trace.
type Section struct {
	Name string `json:"name" yaml:"name"`
	// DateStart and DateEnd are unix timestamps from the markers.
	DateStart int64 `json:"date_start" yaml:"date_start"`
	DateEnd   int64 `json:"date_end" yaml:"date_end"`
	// ByteStart is the offset right after the start marker.
	ByteStart int64 `json:"byte_start" yaml:"byte_start"`
	// ByteEnd is the offset where the end marker begins.
	ByteEnd int64 `json:"byte_end" yaml:"byte_end"`
}

type openSection struct {
	date int64
	pos  int64
}

const (
	// readSize bounds the bytes buffered per read, however long a line is.
	readSize = 64 << 10
	// maxMarkerLen is the longest marker recognized across read
	// boundaries. Longer markers are ignored when they straddle one.
	maxMarkerLen = 512
)

// Parse scans r once and returns the sections it closes, in closing order.
// Unterminated sections, end markers without a start and malformed markers
// are ignored. Memory use is bounded by readSize plus maxMarkerLen.
func Parse(r io.Reader) ([]Section, error) {
	br := bufio.NewReaderSize(r, readSize)
	open := make(map[string]openSection)
	var (
		sections []Section
		window   []byte
		base     int64
		carry    int
	)

	for {
		seg, err := br.ReadSlice('\n')
		if len(seg) > 0 {
			window = append(window, seg...)
			sections = scanWindow(window, base, carry, open, sections)

			// Markers never span a newline, so only the tail of the
			// current line is carried into the next window.
			from := max(len(window)-maxMarkerLen, bytes.LastIndexByte(window, '\n')+1)
			carry = copy(window, window[from:])
			window = window[:carry]
			base += int64(from)
		}
		if errors.Is(err, io.EOF) {
			return sections, nil
		}
		if err != nil && !errors.Is(err, bufio.ErrBufferFull) {
			return sections, err
		}
	}
}

// scanWindow applies the markers in window, which starts at offset base.
// The first carry bytes were already scanned, so markers ending inside
// them are skipped.
func scanWindow(window []byte, base int64, carry int, open map[string]openSection, sections []Section) []Section {
	if !bytes.Contains(window, markerHint) {
		return sections
	}

	for _, m := range markerPattern.FindAllSubmatchIndex(window, -1) {
		if m[1] <= carry {
			continue
		}
		action := string(window[m[2]:m[3]])
		date, err := strconv.ParseInt(string(window[m[4]:m[5]]), 10, 64)
		if err != nil {
			continue
		}
		name := string(window[m[6]:m[7]])

		switch action {
		case "start":
			open[name] = openSection{date: date, pos: base + int64(m[1])}
		case "end":
			start, ok := open[name]
			if !ok {
				continue
			}
			delete(open, name)
			sections = append(sections, Section{
				Name:      name,
				DateStart: start.date,
				DateEnd:   date,
				ByteStart: start.pos,
				ByteEnd:   base + int64(m[0]),
			})
		}
	}
	return sections
}

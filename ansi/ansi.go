// Package ansi renders terminal output to HTML.
//
// Rendering is incremental: Render consumes a byte slice starting from a
// State and returns the State after the last consumed byte, so a live view
// only ever renders newly appended bytes. Every call emits balanced span
// tags; section divs stay open across calls until their end marker.
package ansi

import (
	"bytes"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var sectionMarker = regexp.MustCompile(`^section_(start|end):(\d+):([a-zA-Z0-9_.-]+)\r\x1b\[0?K`)

var colorNames = [8]string{"black", "red", "green", "yellow", "blue", "magenta", "cyan", "white"}

// Render converts data to HTML, continuing from st. The returned state's
// Offset is st.Offset plus the number of bytes consumed. Trailing bytes of
// an unfinished escape or UTF-8 sequence are left unconsumed so the next
// call sees them whole.
func Render(data []byte, st State) (string, State) {
	r := renderer{style: st.Style, sections: append([]string(nil), st.Sections...)}
	consumed := r.run(data)
	r.closeSpan()

	return r.out.String(), State{
		Offset:   st.Offset + int64(consumed),
		Style:    r.style,
		Sections: r.sections,
	}
}

type renderer struct {
	out      strings.Builder
	style    Style
	spanOpen bool
	sections []string
}

func (r *renderer) run(data []byte) int {
	i := 0
	for i < len(data) {
		b := data[i]
		switch {
		case b == 0x1b:
			n, complete := r.escape(data[i:])
			if !complete {
				return i
			}
			i += n
		case b == 's' && bytes.HasPrefix(data[i:], []byte("section_")):
			if m := sectionMarker.FindSubmatch(data[i:]); m != nil {
				r.section(string(m[1]), string(m[2]), string(m[3]))
				i += len(m[0])
				continue
			}
			r.text("s")
			i++
		case b == '\n':
			r.closeSpan()
			r.out.WriteString("<br>")
			i++
		case b == '\t':
			r.text("\t")
			i++
		case b < 0x20 || b == 0x7f:
			// \r and other control bytes have no HTML rendering.
			i++
		case b < utf8.RuneSelf:
			r.text(string(b))
			i++
		default:
			if !utf8.FullRune(data[i:]) {
				return i
			}
			ru, size := utf8.DecodeRune(data[i:])
			r.text(string(ru))
			i += size
		}
	}
	return i
}

// escape handles an escape sequence at the start of data. It returns the
// sequence length and false when data ends before the sequence does.
func (r *renderer) escape(data []byte) (int, bool) {
	if len(data) < 2 {
		return 0, false
	}
	if data[1] != '[' {
		return 2, true
	}
	for j := 2; j < len(data); j++ {
		c := data[j]
		if c >= 0x40 && c <= 0x7e {
			if c == 'm' {
				r.sgr(string(data[2:j]))
			}
			return j + 1, true
		}
	}
	return 0, false
}

func (r *renderer) sgr(params string) {
	if params == "" {
		params = "0"
	}
	codes := strings.Split(params, ";")
	for k := 0; k < len(codes); k++ {
		code, err := strconv.Atoi(codes[k])
		if err != nil {
			continue
		}
		switch {
		case code == 0:
			r.style = Style{}
		case code == 1:
			r.style.Bold = true
		case code == 2:
			r.style.Faint = true
		case code == 3:
			r.style.Italic = true
		case code == 4:
			r.style.Underline = true
		case code == 22:
			r.style.Bold, r.style.Faint = false, false
		case code == 23:
			r.style.Italic = false
		case code == 24:
			r.style.Underline = false
		case code >= 30 && code <= 37:
			r.style.Fg = colorNames[code-30]
		case code == 39:
			r.style.Fg = ""
		case code >= 40 && code <= 47:
			r.style.Bg = colorNames[code-40]
		case code == 49:
			r.style.Bg = ""
		case code >= 90 && code <= 97:
			r.style.Fg = "l-" + colorNames[code-90]
		case code >= 100 && code <= 107:
			r.style.Bg = "l-" + colorNames[code-100]
		case (code == 38 || code == 48) && k+2 < len(codes) && codes[k+1] == "5":
			n, err := strconv.Atoi(codes[k+2])
			k += 2
			if err != nil || n < 0 || n > 255 {
				continue
			}
			if code == 38 {
				r.style.Fg = "xterm-" + strconv.Itoa(n)
			} else {
				r.style.Bg = "xterm-" + strconv.Itoa(n)
			}
		}
	}
	// Style changes take effect at the next text run.
	r.closeSpan()
}

func (r *renderer) section(action, ts, name string) {
	r.closeSpan()
	switch action {
	case "start":
		r.sections = append(r.sections, name)
		r.out.WriteString(`<div class="section" data-section="`)
		r.out.WriteString(html.EscapeString(name))
		r.out.WriteString(`" data-timestamp="`)
		r.out.WriteString(ts)
		r.out.WriteString(`">`)
	case "end":
		for k := len(r.sections) - 1; k >= 0; k-- {
			if r.sections[k] == name {
				for range len(r.sections) - k {
					r.out.WriteString("</div>")
				}
				r.sections = r.sections[:k]
				return
			}
		}
	}
}

func (r *renderer) text(s string) {
	if !r.spanOpen && !r.style.Plain() {
		r.out.WriteString(`<span class="`)
		r.out.WriteString(classes(r.style))
		r.out.WriteString(`">`)
		r.spanOpen = true
	}
	r.out.WriteString(html.EscapeString(s))
}

func (r *renderer) closeSpan() {
	if r.spanOpen {
		r.out.WriteString("</span>")
		r.spanOpen = false
	}
}

func classes(s Style) string {
	var parts []string
	if s.Fg != "" {
		parts = append(parts, termClass("fg", s.Fg))
	}
	if s.Bg != "" {
		parts = append(parts, termClass("bg", s.Bg))
	}
	if s.Bold {
		parts = append(parts, "term-bold")
	}
	if s.Faint {
		parts = append(parts, "term-faint")
	}
	if s.Italic {
		parts = append(parts, "term-italic")
	}
	if s.Underline {
		parts = append(parts, "term-underline")
	}
	return strings.Join(parts, " ")
}

func termClass(kind, color string) string {
	if n, ok := strings.CutPrefix(color, "xterm-"); ok {
		return "xterm-" + kind + "-" + n
	}
	return "term-" + kind + "-" + color
}

package section

import (
	"strings"
	"testing"
	"testing/iotest"
)

const clear = "\r\x1b[0K"

func TestParse_SingleSection(t *testing.T) {
	trace := "before\n" +
		"section_start:1500000000:build" + clear + "compiling\n" +
		"done\n" +
		"section_end:1500000010:build" + clear + "after\n"

	sections, err := Parse(strings.NewReader(trace))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(sections))
	}
	s := sections[0]
	if s.Name != "build" || s.DateStart != 1500000000 || s.DateEnd != 1500000010 {
		t.Errorf("unexpected section %+v", s)
	}
	if got := trace[s.ByteStart:s.ByteEnd]; got != "compiling\ndone\n" {
		t.Errorf("section content = %q", got)
	}
}

func TestParse_MultiByteOffsets(t *testing.T) {
	trace := "héllo wörld ✓\n" +
		"section_start:1:utf" + clear + "日本語\n" +
		"section_end:2:utf" + clear

	sections, err := Parse(strings.NewReader(trace))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sections) != 1 {
		t.Fatalf("got %d sections", len(sections))
	}
	if got := trace[sections[0].ByteStart:sections[0].ByteEnd]; got != "日本語\n" {
		t.Errorf("content = %q, want 日本語", got)
	}
}

func TestParse_Nested(t *testing.T) {
	trace := "section_start:1:outer" + clear + "\n" +
		"section_start:2:inner" + clear + "x\n" +
		"section_end:3:inner" + clear + "\n" +
		"section_end:4:outer" + clear + "\n"

	sections, err := Parse(strings.NewReader(trace))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sections) != 2 || sections[0].Name != "inner" || sections[1].Name != "outer" {
		t.Fatalf("unexpected sections %+v", sections)
	}
	if sections[1].ByteStart > sections[0].ByteStart || sections[1].ByteEnd < sections[0].ByteEnd {
		t.Error("outer section must enclose inner section")
	}
}

func TestParse_IgnoresMalformed(t *testing.T) {
	tests := []struct {
		name  string
		trace string
	}{
		{name: "bare substring", trace: "this mentions section_ in passing\n"},
		{name: "unterminated", trace: "section_start:1:open" + clear + "no end\n"},
		{name: "end without start", trace: "section_end:1:orphan" + clear + "\n"},
		{name: "missing clear", trace: "section_start:1:x\nsection_end:2:x\n"},
		{name: "bad name", trace: "section_start:1:bad name" + clear + "\nsection_end:2:bad name" + clear + "\n"},
		{name: "no timestamp", trace: "section_start::x" + clear + "\nsection_end::x" + clear + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sections, err := Parse(strings.NewReader(tt.trace))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(sections) != 0 {
				t.Errorf("expected no sections, got %+v", sections)
			}
		})
	}
}

func TestParse_MarkersOnSameLine(t *testing.T) {
	trace := "section_start:1:a" + clear + "inline" + "section_end:2:a" + clear + "\n"
	sections, err := Parse(strings.NewReader(trace))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sections) != 1 {
		t.Fatalf("got %d sections", len(sections))
	}
	if got := trace[sections[0].ByteStart:sections[0].ByteEnd]; got != "inline" {
		t.Errorf("content = %q", got)
	}
}

func TestParse_HugeLine(t *testing.T) {
	// Several read buffers without a newline, with markers in between.
	pad := strings.Repeat("x", 3*readSize+7)
	trace := pad + "section_start:1:long" + clear + pad + "y" +
		"section_end:2:long" + clear + pad

	sections, err := Parse(strings.NewReader(trace))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sections) != 1 || sections[0].Name != "long" {
		t.Fatalf("unexpected sections %+v", sections)
	}
	if got := trace[sections[0].ByteStart:sections[0].ByteEnd]; got != pad+"y" {
		t.Errorf("content length = %d, want %d", len(got), len(pad)+1)
	}
}

func TestParse_MarkerAcrossReads(t *testing.T) {
	tests := []struct {
		name string
		cut  int
	}{
		{name: "in prefix", cut: 2},
		{name: "in name", cut: 20},
		{name: "in clear sequence", cut: len("\x1b[0Ksection_end:2:split") + 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			head := "section_start:1:split" + clear + "body"
			// The end marker starts cut bytes before the first read
			// boundary.
			pad := strings.Repeat("z", readSize-len(head)-tt.cut)
			trace := head + pad + "\x1b[0Ksection_end:2:split" + clear + "tail"

			sections, err := Parse(iotest.HalfReader(strings.NewReader(trace)))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(sections) != 1 {
				t.Fatalf("got %d sections, want 1", len(sections))
			}
			if got := trace[sections[0].ByteStart:sections[0].ByteEnd]; got != "body"+pad {
				t.Errorf("content = %q...", got[:min(len(got), 16)])
			}
		})
	}
}

func TestParse_NoDuplicateAcrossReads(t *testing.T) {
	// Both markers end inside the tail carried into the second read. Applying
	// them again would close a second section.
	markers := "section_start:1:dup" + clear + "section_end:2:dup" + clear
	pad := strings.Repeat("a", readSize-len(markers)-4)
	trace := pad + markers + strings.Repeat("b", readSize) +
		"section_end:3:dup" + clear

	sections, err := Parse(strings.NewReader(trace))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(sections) != 1 || sections[0].DateEnd != 2 {
		t.Fatalf("unexpected sections %+v", sections)
	}
}

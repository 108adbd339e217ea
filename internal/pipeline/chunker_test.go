package pipeline

import (
	"strings"
	"testing"

	"doc-ingest-platform/models"
)

func testChunkingConfig(target, overlap int) models.ChunkingConfig {
	return models.ChunkingConfig{
		TargetChars:               target,
		OverlapChars:              overlap,
		HeaderLevels:              3,
		PresentationMinChunkChars: 200,
		TabularRowsPerChunk:       2,
	}
}

func TestChunkBlankInput(t *testing.T) {
	chunker := NewChunker(testChunkingConfig(1000, 100))

	for _, input := range []string{"", "   ", "\n\n\t\n"} {
		if pieces := chunker.Chunk(input); len(pieces) != 0 {
			t.Fatalf("Chunk(%q): got %d pieces, want 0", input, len(pieces))
		}
	}
}

func TestChunkSmallInputSingleChunk(t *testing.T) {
	chunker := NewChunker(testChunkingConfig(1000, 200))

	text := "# Intro\nA short note that fits in one chunk.\n\n## Detail\nMore prose here."
	pieces := chunker.Chunk(text)
	if len(pieces) != 1 {
		t.Fatalf("got %d pieces, want 1", len(pieces))
	}
	p := pieces[0]
	if p.Index != 0 {
		t.Errorf("index: got %d, want 0", p.Index)
	}
	if p.Heading != "Intro" {
		t.Errorf("heading: got %q, want Intro", p.Heading)
	}
	if p.CharStart != 0 || p.CharEnd != len(text) {
		t.Errorf("span: got [%d,%d), want [0,%d)", p.CharStart, p.CharEnd, len(text))
	}
}

func TestChunkSplitsAtHeadings(t *testing.T) {
	chunker := NewChunker(testChunkingConfig(120, 0))

	section := strings.Repeat("Body prose for this section. ", 3)
	text := "# Alpha\n" + section + "\n## Beta\n" + section + "\n## Gamma\n" + section
	pieces := chunker.Chunk(text)
	if len(pieces) < 3 {
		t.Fatalf("got %d pieces, want at least 3", len(pieces))
	}

	// Pieces starting at heading lines pick up the right breadcrumb trail.
	var betaPiece *Piece
	for i := range pieces {
		if strings.HasPrefix(pieces[i].Content, "## Beta") {
			betaPiece = &pieces[i]
		}
	}
	if betaPiece == nil {
		t.Fatal("no piece starts at the Beta heading")
	}
	if betaPiece.Heading != "Beta" {
		t.Errorf("heading: got %q, want Beta", betaPiece.Heading)
	}
	wantCrumbs := []string{"Alpha", "Beta"}
	if len(betaPiece.Breadcrumbs) != 2 || betaPiece.Breadcrumbs[0] != wantCrumbs[0] || betaPiece.Breadcrumbs[1] != wantCrumbs[1] {
		t.Errorf("breadcrumbs: got %v, want %v", betaPiece.Breadcrumbs, wantCrumbs)
	}
}

func TestChunkOffsetsMonotonic(t *testing.T) {
	chunker := NewChunker(testChunkingConfig(80, 20))

	text := "  \n" + strings.Repeat("One sentence here. Another follows now. ", 12)
	pieces := chunker.Chunk(text)
	if len(pieces) < 2 {
		t.Fatalf("got %d pieces, want several", len(pieces))
	}

	if pieces[0].CharStart != 3 {
		t.Errorf("first CharStart: got %d, want 3 (leading whitespace skipped)", pieces[0].CharStart)
	}
	for i, p := range pieces {
		if p.CharStart >= p.CharEnd {
			t.Fatalf("piece %d: empty span [%d,%d)", i, p.CharStart, p.CharEnd)
		}
		if p.Content != text[p.CharStart:p.CharEnd] {
			t.Fatalf("piece %d: content does not match source span", i)
		}
		if i > 0 && p.CharStart < pieces[i-1].CharStart {
			t.Fatalf("piece %d: CharStart went backwards", i)
		}
	}
}

func TestChunkRoundTripWithOverlapRemoved(t *testing.T) {
	chunker := NewChunker(testChunkingConfig(100, 30))

	text := strings.Repeat("Alpha beta gamma delta epsilon. ", 15)
	pieces := chunker.Chunk(text)
	if len(pieces) < 2 {
		t.Fatalf("got %d pieces, want several", len(pieces))
	}

	var rebuilt strings.Builder
	for i, p := range pieces {
		if i < len(pieces)-1 {
			core := pieces[i+1].CharStart - p.CharStart
			rebuilt.WriteString(p.Content[:core])
		} else {
			rebuilt.WriteString(p.Content)
		}
	}

	trimmed := strings.TrimSpace(text)
	if rebuilt.String() != trimmed {
		t.Fatal("concatenation with overlap removed does not reproduce the source")
	}
}

func TestChunkOversizedInputAlwaysSplit(t *testing.T) {
	chunker := NewChunker(testChunkingConfig(50, 0))

	// No headings, no paragraphs, no sentences, no spaces: hard split.
	text := strings.Repeat("x", 180)
	pieces := chunker.Chunk(text)
	if len(pieces) != 4 {
		t.Fatalf("got %d pieces, want 4", len(pieces))
	}
	for i, p := range pieces {
		if len(p.Content) > 50 {
			t.Fatalf("piece %d exceeds target: %d chars", i, len(p.Content))
		}
	}
}

func TestChunkHardSplitRespectsRuneBoundaries(t *testing.T) {
	chunker := NewChunker(testChunkingConfig(10, 0))

	text := strings.Repeat("ü", 20) // 2 bytes each
	for i, p := range chunker.Chunk(text) {
		for _, r := range p.Content {
			if r == '�' {
				t.Fatalf("piece %d split mid-rune", i)
			}
		}
	}
}

func TestChunkTypeInference(t *testing.T) {
	chunker := NewChunker(testChunkingConfig(1000, 0))

	tests := []struct {
		text string
		want string
	}{
		{"```go\nfunc main() {}\n```", models.ChunkTypeCode},
		{"| a | b |\n|---|---|\n| 1 | 2 |", models.ChunkTypeTable},
		{"plain prose without structure here to read.", models.ChunkTypeText},
	}
	for _, tt := range tests {
		pieces := chunker.Chunk(tt.text)
		if len(pieces) != 1 {
			t.Fatalf("Chunk(%q): got %d pieces", tt.text, len(pieces))
		}
		if pieces[0].ChunkType != tt.want {
			t.Errorf("type for %q: got %q, want %q", tt.text, pieces[0].ChunkType, tt.want)
		}
	}
}

func TestChunkTabularRepeatsHeader(t *testing.T) {
	chunker := NewChunker(testChunkingConfig(1000, 0))

	table := "| id | name |\n|----|------|\n| 1 | a |\n| 2 | b |\n| 3 | c |\n| 4 | d |\n| 5 | e |"
	pieces := chunker.ChunkTabular(table)
	if len(pieces) != 3 {
		t.Fatalf("got %d pieces, want 3 (2 rows per chunk over 5 rows)", len(pieces))
	}
	for i, p := range pieces {
		if !strings.HasPrefix(p.Content, "| id | name |\n|----|------|") {
			t.Fatalf("piece %d missing repeated header:\n%s", i, p.Content)
		}
		if p.ChunkType != models.ChunkTypeTable {
			t.Fatalf("piece %d type: got %q", i, p.ChunkType)
		}
		if i > 0 && p.CharStart < pieces[i-1].CharEnd {
			t.Fatalf("piece %d rows overlap previous chunk", i)
		}
	}
	if !strings.Contains(pieces[2].Content, "| 5 | e |") {
		t.Fatal("last row missing from final chunk")
	}
}

func TestChunkPresentationMergesSmallSlides(t *testing.T) {
	cfg := testChunkingConfig(500, 0)
	cfg.PresentationMinChunkChars = 120
	chunker := NewChunker(cfg)

	// Three tiny slides followed by one big one; target forces initial splits.
	slide := "Short slide content line.\n"
	big := strings.Repeat("A longer closing slide with plenty of text to stand alone. ", 4)
	text := "# One\n" + slide + "\n# Two\n" + slide + "\n# Three\n" + big
	cfg.TargetChars = 80
	chunker = NewChunker(cfg)

	pieces := chunker.ChunkPresentation(text)
	for i, p := range pieces[:len(pieces)-1] {
		if len([]rune(p.Content)) < 120 {
			t.Fatalf("piece %d below presentation minimum: %d chars", i, len(p.Content))
		}
	}
	for i, p := range pieces {
		if p.Index != i {
			t.Fatalf("piece %d: index %d not dense", i, p.Index)
		}
	}
}

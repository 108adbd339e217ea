package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"doc-ingest-platform/models"
)

// Piece is one chunk produced by the splitter, with positions into the
// original (untrimmed) source text. Offsets are byte offsets.
type Piece struct {
	Index       int
	Content     string
	CharStart   int
	CharEnd     int
	Heading     string
	Breadcrumbs []string
	Page        int
	ChunkType   string
	TokenCount  int
}

// Chunker splits Markdown into size-bounded, heading-aware chunks.
type Chunker struct {
	cfg           models.ChunkingConfig
	headingRegex  *regexp.Regexp
	sentenceRegex *regexp.Regexp
	tableRowRegex *regexp.Regexp
}

func NewChunker(cfg models.ChunkingConfig) *Chunker {
	if cfg.TargetChars <= 0 {
		cfg.TargetChars = 1000
	}
	if cfg.HeaderLevels <= 0 || cfg.HeaderLevels > 6 {
		cfg.HeaderLevels = 3
	}
	if cfg.OverlapChars < 0 {
		cfg.OverlapChars = 0
	}
	return &Chunker{
		cfg:           cfg,
		headingRegex:  regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+?)[ \t]*$`),
		sentenceRegex: regexp.MustCompile(`[.!?]+[\s]+`),
		tableRowRegex: regexp.MustCompile(`^\|.*\|?\s*$`),
	}
}

// Chunk splits Markdown text. The sequence is ordered by position; every chunk
// except the last carries OverlapChars of tail overlap into its successor, so
// concatenating the chunks with overlap removed reproduces the source.
func (c *Chunker) Chunk(text string) []Piece {
	return c.chunk(text, c.cfg.OverlapChars)
}

func (c *Chunker) chunk(text string, overlap int) []Piece {
	trimStart, trimEnd := trimOffsets(text)
	if trimStart >= trimEnd {
		return nil
	}
	body := text[trimStart:trimEnd]

	segments := c.segment(body)
	headings := c.parseHeadings(body)

	pieces := make([]Piece, 0, len(segments))
	for i, seg := range segments {
		contentEnd := seg.end
		if overlap > 0 && i < len(segments)-1 {
			contentEnd = seg.end + overlap
			if contentEnd > len(body) {
				contentEnd = len(body)
			}
			contentEnd = runeFloor(body, contentEnd)
		}

		content := body[seg.start:contentEnd]
		heading, crumbs := headingContext(headings, seg.start, c.cfg.HeaderLevels)

		pieces = append(pieces, Piece{
			Index:       i,
			Content:     content,
			CharStart:   trimStart + seg.start,
			CharEnd:     trimStart + contentEnd,
			Heading:     heading,
			Breadcrumbs: crumbs,
			ChunkType:   inferChunkType(content),
			TokenCount:  estimateTokens(content),
		})
	}
	return pieces
}

// ChunkTabular splits a Markdown table by rows, repeating the column header at
// the top of every chunk. Non-table input falls back to the generic splitter.
func (c *Chunker) ChunkTabular(text string) []Piece {
	trimStart, trimEnd := trimOffsets(text)
	if trimStart >= trimEnd {
		return nil
	}
	body := text[trimStart:trimEnd]

	lines := splitLinesWithOffsets(body)
	if len(lines) < 2 || !c.tableRowRegex.MatchString(lines[0].text) {
		return c.Chunk(text)
	}

	header := lines[0].text
	dataStart := 1
	if len(lines) > 1 && isTableSeparator(lines[1].text) {
		header = header + "\n" + lines[1].text
		dataStart = 2
	}

	rowsPerChunk := c.cfg.TabularRowsPerChunk
	if rowsPerChunk <= 0 {
		rowsPerChunk = 50
	}

	var pieces []Piece
	for i := dataStart; i < len(lines); i += rowsPerChunk {
		end := i + rowsPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		rows := make([]string, 0, end-i)
		for _, ln := range lines[i:end] {
			rows = append(rows, ln.text)
		}

		pieces = append(pieces, Piece{
			Index:      len(pieces),
			Content:    header + "\n" + strings.Join(rows, "\n"),
			CharStart:  trimStart + lines[i].start,
			CharEnd:    trimStart + lines[end-1].end,
			ChunkType:  models.ChunkTypeTable,
			TokenCount: estimateTokens(header) + estimateTokens(strings.Join(rows, "\n")),
		})
	}
	return pieces
}

// ChunkPresentation splits slide-style Markdown, merging adjacent chunks below
// the presentation minimum so tiny slides do not become standalone chunks.
// Overlap is not applied; merged slides already share their boundary context.
func (c *Chunker) ChunkPresentation(text string) []Piece {
	pieces := c.chunk(text, 0)
	minChars := c.cfg.PresentationMinChunkChars
	if minChars <= 0 || len(pieces) < 2 {
		return pieces
	}

	merged := make([]Piece, 0, len(pieces))
	for _, p := range pieces {
		if len(merged) > 0 && len([]rune(merged[len(merged)-1].Content)) < minChars {
			prev := &merged[len(merged)-1]
			prev.Content = prev.Content + "\n\n" + p.Content
			prev.CharEnd = p.CharEnd
			prev.TokenCount = estimateTokens(prev.Content)
			if prev.ChunkType != p.ChunkType {
				prev.ChunkType = models.ChunkTypeText
			}
			continue
		}
		merged = append(merged, p)
	}
	for i := range merged {
		merged[i].Index = i
	}
	return merged
}

type span struct {
	start int
	end   int
}

// segment partitions the body into contiguous spans of at most TargetChars,
// preferring breaks at heading boundaries, then paragraphs, then sentences,
// then words, with a rune-safe hard cut as the last resort.
func (c *Chunker) segment(body string) []span {
	parts := c.splitSpan(body, span{0, len(body)}, 0)
	return c.mergeSpans(parts)
}

const (
	levelHeading = iota
	levelParagraph
	levelSentence
	levelWord
	levelHard
)

func (c *Chunker) splitSpan(body string, s span, level int) []span {
	if s.end-s.start <= c.cfg.TargetChars {
		return []span{s}
	}
	if level >= levelHard {
		return c.hardSplit(body, s)
	}

	var cuts []int
	switch level {
	case levelHeading:
		cuts = c.headingCuts(body, s)
	case levelParagraph:
		cuts = paragraphCuts(body, s)
	case levelSentence:
		cuts = c.sentenceCuts(body, s)
	case levelWord:
		cuts = wordCuts(body, s)
	}

	if len(cuts) == 0 {
		return c.splitSpan(body, s, level+1)
	}

	var out []span
	prev := s.start
	for _, cut := range cuts {
		out = append(out, c.splitSpan(body, span{prev, cut}, level+1)...)
		prev = cut
	}
	out = append(out, c.splitSpan(body, span{prev, s.end}, level+1)...)
	return out
}

// headingCuts returns positions where a heading of configured depth starts.
func (c *Chunker) headingCuts(body string, s span) []int {
	matches := c.headingRegex.FindAllStringSubmatchIndex(body[s.start:s.end], -1)
	var cuts []int
	for _, m := range matches {
		level := m[3] - m[2] // length of the '#' run
		if level > c.cfg.HeaderLevels {
			continue
		}
		pos := s.start + m[0]
		if pos > s.start && pos < s.end {
			cuts = append(cuts, pos)
		}
	}
	return cuts
}

// paragraphCuts returns positions where a new paragraph begins; the blank-line
// separator stays with the preceding piece so concatenation is lossless.
func paragraphCuts(body string, s span) []int {
	var cuts []int
	text := body[s.start:s.end]
	i := 0
	for {
		idx := strings.Index(text[i:], "\n\n")
		if idx < 0 {
			break
		}
		j := i + idx
		for j < len(text) && (text[j] == '\n' || text[j] == '\r') {
			j++
		}
		if j < len(text) {
			cuts = append(cuts, s.start+j)
		}
		i = j
		if i >= len(text) {
			break
		}
	}
	return cuts
}

func (c *Chunker) sentenceCuts(body string, s span) []int {
	matches := c.sentenceRegex.FindAllStringIndex(body[s.start:s.end], -1)
	var cuts []int
	for _, m := range matches {
		pos := s.start + m[1]
		if pos > s.start && pos < s.end {
			cuts = append(cuts, pos)
		}
	}
	return cuts
}

func wordCuts(body string, s span) []int {
	var cuts []int
	for i := s.start; i < s.end-1; i++ {
		if body[i] == ' ' || body[i] == '\n' || body[i] == '\t' {
			if i+1 > s.start && i+1 < s.end {
				cuts = append(cuts, i+1)
			}
		}
	}
	return cuts
}

// hardSplit cuts at TargetChars, backing off to a rune boundary.
func (c *Chunker) hardSplit(body string, s span) []span {
	var out []span
	start := s.start
	for s.end-start > c.cfg.TargetChars {
		cut := runeFloor(body, start+c.cfg.TargetChars)
		if cut <= start {
			cut = start + c.cfg.TargetChars // degenerate, should not happen
		}
		out = append(out, span{start, cut})
		start = cut
	}
	out = append(out, span{start, s.end})
	return out
}

// mergeSpans greedily coalesces adjacent spans while staying within target.
func (c *Chunker) mergeSpans(parts []span) []span {
	if len(parts) == 0 {
		return nil
	}
	merged := []span{parts[0]}
	for _, p := range parts[1:] {
		last := &merged[len(merged)-1]
		if p.end-last.start <= c.cfg.TargetChars {
			last.end = p.end
		} else {
			merged = append(merged, p)
		}
	}
	return merged
}

type headingMark struct {
	level  int
	title  string
	offset int
}

func (c *Chunker) parseHeadings(body string) []headingMark {
	matches := c.headingRegex.FindAllStringSubmatchIndex(body, -1)
	marks := make([]headingMark, 0, len(matches))
	for _, m := range matches {
		marks = append(marks, headingMark{
			level:  m[3] - m[2],
			title:  body[m[4]:m[5]],
			offset: m[0],
		})
	}
	return marks
}

// headingContext returns the most recent heading at or above the chunk start
// and the breadcrumb trail: the latest heading seen at each level 1..N, with
// deeper levels cleared whenever a shallower heading appears.
func headingContext(marks []headingMark, start, maxLevel int) (string, []string) {
	levels := make([]string, maxLevel+1)
	heading := ""
	for _, m := range marks {
		if m.offset > start {
			break
		}
		if m.level > maxLevel {
			continue
		}
		levels[m.level] = m.title
		for l := m.level + 1; l <= maxLevel; l++ {
			levels[l] = ""
		}
		heading = m.title
	}

	var crumbs []string
	for l := 1; l <= maxLevel; l++ {
		if levels[l] != "" {
			crumbs = append(crumbs, levels[l])
		}
	}
	return heading, crumbs
}

func inferChunkType(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		return models.ChunkTypeCode
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) == 1 && strings.HasPrefix(trimmed, "#") {
		return models.ChunkTypeHeading
	}

	tableLines := 0
	nonEmpty := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		nonEmpty++
		if strings.HasPrefix(line, "|") {
			tableLines++
		}
	}
	if nonEmpty > 1 && tableLines == nonEmpty {
		return models.ChunkTypeTable
	}

	return models.ChunkTypeText
}

func isTableSeparator(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "|") {
		return false
	}
	for _, r := range trimmed {
		switch r {
		case '|', '-', ':', ' ':
		default:
			return false
		}
	}
	return strings.Contains(trimmed, "-")
}

type lineSpan struct {
	text  string
	start int
	end   int
}

func splitLinesWithOffsets(body string) []lineSpan {
	var lines []lineSpan
	start := 0
	for i := 0; i <= len(body); i++ {
		if i == len(body) || body[i] == '\n' {
			text := strings.TrimRight(body[start:i], "\r")
			if strings.TrimSpace(text) != "" {
				lines = append(lines, lineSpan{text: text, start: start, end: i})
			}
			start = i + 1
		}
	}
	return lines
}

// trimOffsets returns the byte range of text with surrounding whitespace
// stripped, preserving positions into the original string.
func trimOffsets(text string) (int, int) {
	start := 0
	end := len(text)
	for start < end && isSpaceByte(text[start]) {
		start++
	}
	for end > start && isSpaceByte(text[end-1]) {
		end--
	}
	return start, end
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// runeFloor backs pos off to the nearest rune boundary at or before it.
func runeFloor(s string, pos int) int {
	for pos > 0 && pos < len(s) && !utf8.RuneStart(s[pos]) {
		pos--
	}
	return pos
}

// estimateTokens uses the rough 4-characters-per-token heuristic.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

package pipeline

import (
	"strings"
	"unicode"

	"doc-ingest-platform/models"
)

// Gate rejection reasons and warnings.
const (
	ReasonTextTooShort   = "TEXT_TOO_SHORT"
	ReasonExcessiveNoise = "EXCESSIVE_NOISE"
	WarnHighNoiseRatio   = "HIGH_NOISE_RATIO"
)

// GateResult is the verdict for a full text blob.
type GateResult struct {
	Passed        bool
	Reason        string
	Warnings      []string
	NoiseRatio    float64
	ContentLength int
}

// ChunkQuality is the per-chunk score and flag set.
type ChunkQuality struct {
	Score float64
	Flags []string
}

// QualityGate admits or rejects text before it is chunked and embedded.
type QualityGate struct {
	MinChars        int
	WarnThreshold   float64
	RejectThreshold float64
	PenaltyPerFlag  float64
}

func NewQualityGate(minChars int, warnThreshold, rejectThreshold, penaltyPerFlag float64) *QualityGate {
	return &QualityGate{
		MinChars:        minChars,
		WarnThreshold:   warnThreshold,
		RejectThreshold: rejectThreshold,
		PenaltyPerFlag:  penaltyPerFlag,
	}
}

// Check evaluates a full text blob. Rules run in order: length, then the
// reject threshold, then the warn threshold.
func (g *QualityGate) Check(text string) GateResult {
	trimmed := strings.TrimSpace(text)
	length := len([]rune(trimmed))
	noise := NoiseRatio(trimmed)

	result := GateResult{
		NoiseRatio:    noise,
		ContentLength: length,
	}

	if length < g.MinChars {
		result.Reason = ReasonTextTooShort
		return result
	}

	if noise > g.RejectThreshold {
		result.Reason = ReasonExcessiveNoise
		return result
	}

	result.Passed = true
	if noise > g.WarnThreshold {
		result.Warnings = append(result.Warnings, WarnHighNoiseRatio)
	}
	return result
}

// ScoreChunk computes the quality score and flag set for a single chunk.
func (g *QualityGate) ScoreChunk(content string, breadcrumbs []string) ChunkQuality {
	var flags []string

	if isFragment(content) {
		flags = append(flags, models.FlagFragment)
	}
	if len(breadcrumbs) == 0 {
		flags = append(flags, models.FlagNoContext)
	}
	if len([]rune(strings.TrimSpace(content))) < g.MinChars {
		flags = append(flags, models.FlagTooShort)
	}
	if NoiseRatio(content) > g.WarnThreshold {
		flags = append(flags, models.FlagNoisy)
	}

	score := 1.0 - g.PenaltyPerFlag*float64(len(flags))
	if score < 0 {
		score = 0
	}

	return ChunkQuality{Score: score, Flags: flags}
}

// NoiseRatio is the share of characters that are neither alphanumeric nor
// whitespace. An empty string has zero noise.
func NoiseRatio(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}

	noisy := 0
	for _, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			noisy++
		}
	}
	return float64(noisy) / float64(len(runes))
}

// isFragment reports whether the content ends mid-sentence, i.e. without
// terminal punctuation. Markdown structural endings (headings, fences, table
// rows) are not fragments.
func isFragment(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false
	}

	lastLine := trimmed
	if idx := strings.LastIndex(trimmed, "\n"); idx >= 0 {
		lastLine = strings.TrimSpace(trimmed[idx+1:])
	}
	if strings.HasPrefix(lastLine, "#") || strings.HasPrefix(lastLine, "|") || strings.HasPrefix(lastLine, "```") {
		return false
	}

	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', ':', ';', ')', ']', '"', '\'', '`', '|':
		return false
	}
	return true
}

// Package pipeline contains the ingestion dataplane: format routing, chunking,
// quality gating, the fast-lane processor, the callback reconciler and the
// document state machine.
package pipeline

import (
	"errors"
	"path/filepath"
	"strings"

	"doc-ingest-platform/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrFileTooLarge      = errors.New("file too large")
)

// Route is the outcome of format detection and lane assignment.
type Route struct {
	Format   string
	Category string
	Lane     string
}

type formatInfo struct {
	category string
	lane     string
}

// Lane assignment is table-driven: fast-lane formats are ingested in-process,
// everything needing a conversion pass goes through the heavy-lane queue.
var formatTable = map[string]formatInfo{
	models.FormatPDF:  {models.CategoryDocument, models.LaneHeavy},
	models.FormatDOCX: {models.CategoryDocument, models.LaneHeavy},
	models.FormatPPTX: {models.CategoryPresentation, models.LaneHeavy},
	models.FormatXLSX: {models.CategoryTabular, models.LaneHeavy},
	models.FormatCSV:  {models.CategoryTabular, models.LaneHeavy},
	models.FormatHTML: {models.CategoryWeb, models.LaneHeavy},
	models.FormatEPUB: {models.CategoryDocument, models.LaneHeavy},
	models.FormatJSON: {models.CategoryRaw, models.LaneFast},
	models.FormatTXT:  {models.CategoryRaw, models.LaneFast},
	models.FormatMD:   {models.CategoryDocument, models.LaneFast},
}

var mimeTable = map[string]string{
	"application/pdf": models.FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   models.FormatDOCX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": models.FormatPPTX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         models.FormatXLSX,
	"application/msword":   models.FormatDOCX,
	"text/csv":             models.FormatCSV,
	"application/csv":      models.FormatCSV,
	"application/json":     models.FormatJSON,
	"text/plain":           models.FormatTXT,
	"text/markdown":        models.FormatMD,
	"text/x-markdown":      models.FormatMD,
	"text/html":            models.FormatHTML,
	"application/epub+zip": models.FormatEPUB,
}

var extensionTable = map[string]string{
	".pdf":      models.FormatPDF,
	".docx":     models.FormatDOCX,
	".pptx":     models.FormatPPTX,
	".xlsx":     models.FormatXLSX,
	".csv":      models.FormatCSV,
	".json":     models.FormatJSON,
	".txt":      models.FormatTXT,
	".md":       models.FormatMD,
	".markdown": models.FormatMD,
	".html":     models.FormatHTML,
	".htm":      models.FormatHTML,
	".epub":     models.FormatEPUB,
}

// FormatRouter detects the format of an upload and assigns its processing lane.
type FormatRouter struct{}

func NewFormatRouter() *FormatRouter {
	return &FormatRouter{}
}

// Route detects the format from MIME type first, falling back to the filename
// extension, and applies the size limit before any file I/O happens.
func (r *FormatRouter) Route(filename, mimeType string, sizeBytes, maxSizeBytes int64) (Route, error) {
	if maxSizeBytes > 0 && sizeBytes > maxSizeBytes {
		return Route{}, ErrFileTooLarge
	}

	format := detectFormat(filename, mimeType)
	if format == "" {
		return Route{}, ErrUnsupportedFormat
	}

	info := formatTable[format]
	return Route{
		Format:   format,
		Category: info.category,
		Lane:     info.lane,
	}, nil
}

// LaneFor returns the processing lane for an already-detected format.
// Reprocessing uses it to re-dispatch without re-running detection.
func LaneFor(format string) (string, error) {
	info, ok := formatTable[format]
	if !ok {
		return "", ErrUnsupportedFormat
	}
	return info.lane, nil
}

func detectFormat(filename, mimeType string) string {
	// MIME types may carry parameters ("text/plain; charset=utf-8").
	if mimeType != "" {
		base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
		if format, ok := mimeTable[base]; ok {
			return format
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if format, ok := extensionTable[ext]; ok {
		return format
	}

	return ""
}

package pipeline

import (
	"errors"
	"testing"

	"doc-ingest-platform/models"
)

func TestRouteDetection(t *testing.T) {
	router := NewFormatRouter()

	tests := []struct {
		name     string
		filename string
		mimeType string
		format   string
		category string
		lane     string
	}{
		{"pdf by mime", "report.bin", "application/pdf", models.FormatPDF, models.CategoryDocument, models.LaneHeavy},
		{"markdown by extension", "notes.md", "", models.FormatMD, models.CategoryDocument, models.LaneFast},
		{"mime wins over extension", "data.txt", "application/json", models.FormatJSON, models.CategoryRaw, models.LaneFast},
		{"mime with charset parameter", "readme.unknown", "text/plain; charset=utf-8", models.FormatTXT, models.CategoryRaw, models.LaneFast},
		{"xlsx heavy tabular", "sheet.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", models.FormatXLSX, models.CategoryTabular, models.LaneHeavy},
		{"pptx presentation", "deck.pptx", "", models.FormatPPTX, models.CategoryPresentation, models.LaneHeavy},
		{"html web", "page.htm", "", models.FormatHTML, models.CategoryWeb, models.LaneHeavy},
		{"csv heavy", "table.csv", "text/csv", models.FormatCSV, models.CategoryTabular, models.LaneHeavy},
		{"uppercase extension", "NOTES.MD", "", models.FormatMD, models.CategoryDocument, models.LaneFast},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := router.Route(tt.filename, tt.mimeType, 1024, 1<<20)
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if route.Format != tt.format {
				t.Errorf("format: got %q, want %q", route.Format, tt.format)
			}
			if route.Category != tt.category {
				t.Errorf("category: got %q, want %q", route.Category, tt.category)
			}
			if route.Lane != tt.lane {
				t.Errorf("lane: got %q, want %q", route.Lane, tt.lane)
			}
		})
	}
}

func TestRouteUnsupportedFormat(t *testing.T) {
	router := NewFormatRouter()

	_, err := router.Route("archive.zip", "application/zip", 10, 1<<20)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestRouteFileTooLarge(t *testing.T) {
	router := NewFormatRouter()

	// Size limit applies before detection, even for supported formats.
	_, err := router.Route("notes.md", "", 2<<20, 1<<20)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("got %v, want ErrFileTooLarge", err)
	}
}

package models

import "testing"

func TestDefaultProfileCarriesQualityFloor(t *testing.T) {
	profile := DefaultProfile("text-embedding-004", 768, 120)

	if profile.Quality.MinChars != 120 {
		t.Fatalf("MinChars: got %d, want 120", profile.Quality.MinChars)
	}
	if profile.Embedding.ModelID != "text-embedding-004" || profile.Embedding.Dimension != 768 {
		t.Fatalf("embedding config: %+v", profile.Embedding)
	}
	if !profile.IsDefault || !profile.IsActive {
		t.Fatalf("flags: default=%v active=%v", profile.IsDefault, profile.IsActive)
	}
}

func TestDefaultProfileQualityFloorFallback(t *testing.T) {
	profile := DefaultProfile("text-embedding-004", 768, 0)

	if profile.Quality.MinChars != 50 {
		t.Fatalf("MinChars fallback: got %d, want 50", profile.Quality.MinChars)
	}
}

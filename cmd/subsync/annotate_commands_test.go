package main

import (
	"testing"
)

func TestFavoriteRoundTrip(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCatalogVideo(t, env, "1234567890", "A clip")

	out, _, err := runCLI(t, env.configPath, "annotate", "favorite", "1234567890")
	if err != nil {
		t.Fatalf("favorite: %v", err)
	}
	requireContains(t, out, "Favorited 1234567890")

	out, _, err = runCLI(t, env.configPath, "annotate", "favorites")
	if err != nil {
		t.Fatalf("favorites: %v", err)
	}
	requireContains(t, out, "1234567890")
	requireContains(t, out, "A clip")

	if _, _, err := runCLI(t, env.configPath, "annotate", "favorite", "1234567890", "--remove"); err != nil {
		t.Fatalf("unfavorite: %v", err)
	}
	out, _, err = runCLI(t, env.configPath, "annotate", "favorites")
	if err != nil {
		t.Fatalf("favorites after removal: %v", err)
	}
	requireContains(t, out, "No favorites")
}

func TestAnnotationsRejectUnknownVideo(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, env.configPath, "annotate", "favorite", "0000000000"); err == nil {
		t.Fatal("expected error for video missing from catalog")
	}
	if _, _, err := runCLI(t, env.configPath, "annotate", "note", "0000000000", "hi"); err == nil {
		t.Fatal("expected error for video missing from catalog")
	}
}

func TestNoteAndBookmark(t *testing.T) {
	env := setupCLITestEnv(t)
	seedCatalogVideo(t, env, "1234567890", "A clip")

	out, _, err := runCLI(t, env.configPath, "annotate", "note", "1234567890", "great", "pronunciation", "example")
	if err != nil {
		t.Fatalf("note: %v", err)
	}
	requireContains(t, out, "Noted 1234567890")

	out, _, err = runCLI(t, env.configPath, "annotate", "note", "1234567890")
	if err != nil {
		t.Fatalf("clear note: %v", err)
	}
	requireContains(t, out, "Cleared note")

	out, _, err = runCLI(t, env.configPath, "annotate", "bookmark", "1234567890", "1m30s", "--language", "en")
	if err != nil {
		t.Fatalf("bookmark: %v", err)
	}
	requireContains(t, out, "Bookmarked 1234567890 at 1m30s")

	if _, _, err := runCLI(t, env.configPath, "annotate", "bookmark", "1234567890", "nonsense"); err == nil {
		t.Fatal("expected parse error for bad position")
	}
}

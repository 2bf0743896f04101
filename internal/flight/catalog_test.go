package flight

import (
	"errors"
	"testing"
)

func TestNewLibrary_CuratedCatalog(t *testing.T) {
	lib := NewLibrary()

	summaries := lib.Summaries()
	wantOrder := []string{"square-dance", "spiral-climb", "zigzag-dash", "selfie-orbit"}
	if len(summaries) != len(wantOrder) {
		t.Fatalf("expected %d programs, got %d", len(wantOrder), len(summaries))
	}
	for i, id := range wantOrder {
		if summaries[i].Identifier != id {
			t.Errorf("position %d: got %q, want %q", i, summaries[i].Identifier, id)
		}
	}
}

func TestNewLibrary_SafetyEnvelopes(t *testing.T) {
	lib := NewLibrary()

	for _, s := range lib.Summaries() {
		t.Run(s.Identifier, func(t *testing.T) {
			p, err := lib.Get(s.Identifier)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if len(p.Steps) == 0 {
				t.Error("catalog program has no steps")
			}
			if p.RecommendedSpaceM <= 0 {
				t.Errorf("recommended_space_m not positive: %v", p.RecommendedSpaceM)
			}
			if p.MinBatteryPercent < 1 || p.MinBatteryPercent > 100 {
				t.Errorf("min_battery_percent out of range: %d", p.MinBatteryPercent)
			}
			if p.EstimatedDurationSec <= 0 {
				t.Errorf("estimated_duration_seconds not positive: %v", p.EstimatedDurationSec)
			}
			if errs := ValidateProgram(p); errs.HasErrors() {
				t.Errorf("catalog program fails validation: %v", errs)
			}
		})
	}
}

func TestLibrary_GetCaseInsensitive(t *testing.T) {
	lib := NewLibrary()

	for _, id := range []string{"square-dance", "SQUARE-DANCE", "Square-Dance"} {
		p, err := lib.Get(id)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", id, err)
		}
		if p.Title != "Square Dance" {
			t.Errorf("Get(%q): got title %q", id, p.Title)
		}
	}
}

func TestLibrary_GetUnknown(t *testing.T) {
	lib := NewLibrary()

	_, err := lib.Get("warp-drive")
	if err == nil {
		t.Fatal("expected error for unknown program")
	}
	if err.Error() != "Unknown program 'warp-drive'. Use 'programs list' to inspect options." {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var upErr *UploadError
	if !errors.As(err, &upErr) {
		t.Error("expected an *UploadError")
	}
}

func TestLibrary_GetReturnsDeepCopy(t *testing.T) {
	lib := NewLibrary()

	first, err := lib.Get("square-dance")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	first.Steps[1].Args[0] = 999
	first.Steps[0].Description = "tampered"

	second, err := lib.Get("square-dance")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if second.Steps[1].Args[0] != 80 {
		t.Errorf("catalog step args mutated through a copy: %v", second.Steps[1].Args[0])
	}
	if second.Steps[0].Description != "Smooth takeoff" {
		t.Errorf("catalog step description mutated through a copy: %q", second.Steps[0].Description)
	}
}

func TestLibrary_AddDuplicateIdentifier(t *testing.T) {
	lib := NewLibrary()

	dup := testProgram(Step{Command: CommandTakeoff}, Step{Command: CommandLand})
	dup.Identifier = "Square-Dance"

	err := lib.Add(dup)
	if err == nil {
		t.Fatal("expected error for duplicate identifier")
	}
	if lib.Len() != 4 {
		t.Errorf("library size changed on rejected add: %d", lib.Len())
	}
}

func TestLibrary_AddRejectsInvalidProgram(t *testing.T) {
	lib := NewLibrary()

	bad := testProgram(Step{Command: CommandTakeoff})
	bad.MinBatteryPercent = 0

	err := lib.Add(bad)
	if err == nil {
		t.Fatal("expected error for invalid program")
	}

	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Errorf("expected *ValidationErrors, got %T", err)
	}
	if lib.Len() != 4 {
		t.Errorf("invalid program entered the library: %d", lib.Len())
	}
}

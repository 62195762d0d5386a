package keys

import (
	"regexp"
	"testing"
	"unicode"

	"github.com/slopecraft/terrain-cache/internal/core/model"
)

func TestTerrain_FormatAndDeterminism(t *testing.T) {
	k1 := Terrain("morning-run", model.GridSmall)
	k2 := Terrain("morning-run", model.GridSmall)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
	if k1 != "morning-run:32x32" {
		t.Fatalf("unexpected key: %s", k1)
	}
}

func TestTerrain_DifferentSizesDifferentKeys(t *testing.T) {
	if Terrain("r", model.GridSmall) == Terrain("r", model.GridMedium) {
		t.Fatal("grid size must participate in the key")
	}
}

func TestRun_SanitizesWhitespaceAndSymbols(t *testing.T) {
	k := Run("  my run / north face  ")
	if !regexp.MustCompile(`^[A-Za-z0-9:_\-]+$`).MatchString(k) {
		t.Fatalf("key contains disallowed characters: %s", k)
	}
	// squashed replacement runs: no doubled separators
	if regexp.MustCompile(`__|--`).MatchString(k) {
		t.Fatalf("separator runs not squashed: %s", k)
	}
}

func TestAgent_HashSuffixAndASCII(t *testing.T) {
	k := Agent("Sölden Gletscher", model.GridLarge, true)
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if !regexp.MustCompile(`:([0-9a-f]{16})$`).MatchString(k) {
		t.Fatalf("missing hex64 suffix: %s", k)
	}
	if Agent("Sölden Gletscher", model.GridLarge, false) == k {
		t.Fatal("classification flag must participate in the hash")
	}
}

func TestGroup_MatchesAcrossCallSites(t *testing.T) {
	if Group("area-1") != Group("area-1 ") {
		t.Fatal("trailing whitespace must not change the group key")
	}
}

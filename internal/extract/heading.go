// internal/extract/heading.go
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// The portals encode heading three different ways depending on UI vintage:
// a CSS rotation transform on the marker, a compass suffix baked into the
// marker image name, or a compass word printed in the popup text. The
// transform is the most precise signal and always wins.

var compassAngles = map[string]float64{
	"norte":    0,
	"noreste":  45,
	"este":     90,
	"sureste":  135,
	"sur":      180,
	"suroeste": 225,
	"oeste":    270,
	"noroeste": 315,
}

// iconSuffixAngles maps the marker image-name suffixes, e.g. "truck_ne.png".
var iconSuffixAngles = map[string]float64{
	"_n":  0,
	"_ne": 45,
	"_e":  90,
	"_se": 135,
	"_s":  180,
	"_sw": 225,
	"_so": 225,
	"_w":  270,
	"_o":  270,
	"_nw": 315,
	"_no": 315,
}

var reRotation = regexp.MustCompile(`rotate\(\s*(-?\d+(?:\.\d+)?)\s*(?:deg)?\s*\)`)

// deriveHeading resolves the heading in priority order: rotation transform,
// icon suffix, compass word in the popup text, else 0.
func deriveHeading(hints HeadingHints, rawText string) float64 {
	if hints.HasRotation {
		return normalizeAngle(hints.RotationDeg)
	}
	if deg, ok := headingFromIconRef(hints.IconRef); ok {
		return deg
	}
	if deg, ok := headingFromText(rawText); ok {
		return deg
	}
	return 0
}

// RotationFromStyle extracts the rotation angle from a CSS transform value
// such as "rotate(132deg) translate(-50%, -50%)".
func RotationFromStyle(style string) (float64, bool) {
	m := reRotation.FindStringSubmatch(style)
	if m == nil {
		return 0, false
	}
	deg, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return normalizeAngle(deg), true
}

func headingFromIconRef(ref string) (float64, bool) {
	if ref == "" {
		return 0, false
	}
	name := strings.ToLower(ref)
	// Strip query string and extension so the suffix sits at the end.
	if idx := strings.IndexByte(name, '?'); idx >= 0 {
		name = name[:idx]
	}
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		name = name[:idx]
	}
	// Longest suffix first so "_ne" is not shadowed by "_e".
	for _, suffix := range []string{"_ne", "_se", "_sw", "_so", "_nw", "_no", "_n", "_e", "_s", "_w", "_o"} {
		if strings.HasSuffix(name, suffix) {
			return iconSuffixAngles[suffix], true
		}
	}
	return 0, false
}

func headingFromText(rawText string) (float64, bool) {
	lowered := strings.ToLower(rawText)
	// Longest words first: "noreste" contains "este", "suroeste" contains
	// "oeste".
	for _, word := range []string{"noreste", "noroeste", "sureste", "suroeste", "norte", "oeste", "este", "sur"} {
		if containsWord(lowered, word) {
			return compassAngles[word], true
		}
	}
	return 0, false
}

// containsWord matches whole words only, so "surtidor" never reads as "sur".
func containsWord(text, word string) bool {
	for idx := strings.Index(text, word); idx >= 0; {
		before := idx == 0 || !isLetter(text[idx-1])
		afterIdx := idx + len(word)
		after := afterIdx >= len(text) || !isLetter(text[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], word)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func normalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

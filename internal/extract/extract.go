// internal/extract/extract.go

// Package extract turns the free-text telemetry the portals render in their
// vehicle popups into structured location records. The portals print
// label-colon-value lines in Spanish with period decimal separators; each
// field has its own anchored pattern and every field except the coordinates
// is optional.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dfmorales/rastreo-cli/api/schemas"
)

// Input is everything the extractor needs for one popup: the raw visible
// text plus the heading hints gathered from the vehicle icon before the
// popup was read.
type Input struct {
	Plate    Plate
	RawText  string
	Heading  HeadingHints
	Captured time.Time
}

// Plate identifies the vehicle a record belongs to.
type Plate struct {
	Value    string
	Provider schemas.ProviderID
}

// HeadingHints carries the icon-level heading signals. RotationDeg wins over
// IconRef when both are present.
type HeadingHints struct {
	HasRotation bool
	RotationDeg float64
	IconRef     string
}

var (
	reLatitude  = regexp.MustCompile(`(?i)latitud\s*[:=]?\s*(-?\d+\.\d+)`)
	reLongitude = regexp.MustCompile(`(?i)longitud\s*[:=]?\s*(-?\d+\.\d+)`)
	reSpeed     = regexp.MustCompile(`(?i)velocidad\s*[:=]?\s*(\d+(?:\.\d+)?)`)
	reReason    = regexp.MustCompile(`(?i)(?:motivo|evento)\s*[:=]?\s*(.+)`)
	reDriver    = regexp.MustCompile(`(?i)conductor\s*[:=]?\s*(.+)`)
	reAddress   = regexp.MustCompile(`(?i)direcci[oó]n\s*[:=]?\s*(.+)`)
	reZone      = regexp.MustCompile(`(?i)zona\s*[:=]?\s*(.+)`)
	reDetention = regexp.MustCompile(`(?i)detenci[oó]n\s*[:=]?\s*(.+)`)
	reOdometer  = regexp.MustCompile(`(?i)(?:recorrido|kilometraje)\s*[:=]?\s*(\d+(?:\.\d+)?)`)
	reTempC     = regexp.MustCompile(`(?i)temperatura\s*[:=]?\s*(-?\d+(?:\.\d+)?)`)
	reState     = regexp.MustCompile(`(?i)estado\s*[:=]?\s*(.+)`)
)

// ParseLocation builds a location record from popup text. Latitude and
// longitude are mandatory; their absence is an extraction failure that
// carries the raw text untouched so an operator can diagnose what the portal
// actually rendered. Every other field degrades to its zero value.
func ParseLocation(in Input) (*schemas.LocationRecord, error) {
	lat, latOK := matchFloat(reLatitude, in.RawText)
	lon, lonOK := matchFloat(reLongitude, in.RawText)
	if !latOK || !lonOK {
		return nil, schemas.NewExtractionFailure("extract.location", in.RawText,
			fmt.Errorf("coordinate labels not found (lat=%t lon=%t)", latOK, lonOK))
	}

	captured := in.Captured
	if captured.IsZero() {
		captured = time.Now().UTC()
	}

	rec := schemas.NewLocationRecord(in.Plate.Value, in.Plate.Provider)
	rec.Latitude = lat
	rec.Longitude = lon
	rec.CapturedAt = captured
	rec.SpeedKmh, _ = matchFloat(reSpeed, in.RawText)
	rec.HeadingDeg = deriveHeading(in.Heading, in.RawText)
	rec.EventTime = parseEventTime(in.RawText, captured)
	rec.Reason = matchLine(reReason, in.RawText)
	rec.DriverState = matchLine(reState, in.RawText)
	rec.Driver = matchLine(reDriver, in.RawText)
	rec.Address = matchLine(reAddress, in.RawText)
	rec.Zone = matchLine(reZone, in.RawText)
	rec.Detention = matchLine(reDetention, in.RawText)
	rec.OdometerKm, _ = matchFloat(reOdometer, in.RawText)
	rec.TempC, _ = matchFloat(reTempC, in.RawText)
	return rec, nil
}

// matchFloat applies a single-capture pattern and parses the capture with
// the period decimal convention. A malformed value reads as zero; a broken
// secondary field must not cost the caller its coordinate fix.
func matchFloat(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, true
	}
	return v, true
}

// matchLine applies a single-capture pattern and returns the trimmed capture
// up to the end of its line.
func matchLine(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	value := m[1]
	if idx := strings.IndexAny(value, "\r\n"); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

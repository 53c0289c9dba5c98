// api/schemas/location.go
package schemas

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderID identifies one of the supported GPS tracking portals.
type ProviderID string

const (
	ProviderMovilsat   ProviderID = "movilsat"
	ProviderGeotrack   ProviderID = "geotrack"
	ProviderRastreosat ProviderID = "rastreosat"
)

// KnownProviders lists every portal this build can drive.
var KnownProviders = []ProviderID{ProviderMovilsat, ProviderGeotrack, ProviderRastreosat}

// IsKnownProvider reports whether id names a supported portal.
func IsKnownProvider(id ProviderID) bool {
	for _, p := range KnownProviders {
		if p == id {
			return true
		}
	}
	return false
}

// Credentials are the per-vehicle portal credentials supplied at call time.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Vehicle is one roster entry: which portal to drive and with which account.
type Vehicle struct {
	Plate       string      `json:"plate"`
	Provider    ProviderID  `json:"provider"`
	Credentials Credentials `json:"credentials"`
}

// NormalizePlate canonicalizes a plate for comparison. Plate matching across
// the whole system is exact and case-insensitive; substring matches are
// forbidden because one plate can be a substring of another.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

// PlatesEqual reports whether two plate strings identify the same vehicle.
func PlatesEqual(a, b string) bool {
	return NormalizePlate(a) != "" && NormalizePlate(a) == NormalizePlate(b)
}

// LocationRecord is the normalized result of one successful extraction.
// Latitude and Longitude are the only mandatory fields; everything else is
// independently optional and independently defaulted (zero for numerics,
// empty string for labels). Immutable after construction; owned by the caller.
type LocationRecord struct {
	ID       string     `json:"id"`
	Plate    string     `json:"plate"`
	Provider ProviderID `json:"provider"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	SpeedKmh  float64 `json:"speed_kmh"`
	// HeadingDeg is 0-359, derived from an icon rotation transform, an icon
	// image-name suffix, or a textual compass word, in that priority order.
	HeadingDeg float64 `json:"heading_deg"`

	// EventTime is the event time as reported by the portal. When the portal
	// text is unparseable it falls back to CapturedAt.
	EventTime  time.Time `json:"event_time"`
	CapturedAt time.Time `json:"captured_at"`

	Reason      string  `json:"reason,omitempty"`
	Driver      string  `json:"driver,omitempty"`
	DriverState string  `json:"driver_state,omitempty"`
	Address     string  `json:"address,omitempty"`
	Zone        string  `json:"zone,omitempty"`
	Detention   string  `json:"detention,omitempty"`
	OdometerKm  float64 `json:"odometer_km,omitempty"`
	TempC       float64 `json:"temp_c,omitempty"`
}

// NewLocationRecord stamps identity and capture time on a record.
func NewLocationRecord(plate string, provider ProviderID) *LocationRecord {
	return &LocationRecord{
		ID:         uuid.New().String(),
		Plate:      NormalizePlate(plate),
		Provider:   provider,
		CapturedAt: time.Now().UTC(),
	}
}

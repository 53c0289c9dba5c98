// internal/extract/fuzz_test.go
package extract

import (
	"errors"
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"

	"github.com/dfmorales/rastreo-cli/api/schemas"
)

// FuzzParseLocation throws arbitrary popup text and heading hints at the
// extractor. Whatever the portal renders, the extractor must either return a
// record or a tagged extraction failure carrying the input verbatim; it must
// never panic or return some other error shape.
func FuzzParseLocation(f *testing.F) {
	f.Add([]byte("Latitud: 4.6\nLongitud: -74.1\nVelocidad: 45"))
	f.Add([]byte("Latitud: \nLongitud: oops"))
	f.Add([]byte("hace 2 horas noreste rotate(90deg)"))
	f.Add([]byte(""))

	f.Fuzz(func(t *testing.T, data []byte) {
		fuzzConsumer := fuzz.NewConsumer(data)

		rawText, err := fuzzConsumer.GetString()
		if err != nil {
			return
		}
		hints := HeadingHints{}
		if err := fuzzConsumer.GenerateStruct(&hints); err != nil {
			return
		}

		in := Input{
			Plate:    Plate{Value: "ABC123", Provider: schemas.ProviderMovilsat},
			RawText:  rawText,
			Heading:  hints,
			Captured: time.Now().UTC(),
		}

		rec, err := ParseLocation(in)
		if err != nil {
			var scrapeErr *schemas.ScrapeError
			if !errors.As(err, &scrapeErr) {
				t.Fatalf("non-tagged error from extraction: %v", err)
			}
			if scrapeErr.Kind != schemas.FailureExtraction {
				t.Fatalf("unexpected failure kind %q", scrapeErr.Kind)
			}
			if scrapeErr.RawText != rawText {
				t.Fatalf("failure does not carry input verbatim")
			}
			return
		}

		if rec.HeadingDeg < 0 || rec.HeadingDeg >= 360 {
			t.Fatalf("heading out of range: %f", rec.HeadingDeg)
		}
		if rec.CapturedAt.IsZero() {
			t.Fatal("capture time never zero on success")
		}
	})
}

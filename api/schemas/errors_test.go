package schemas

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("plain errors classify as transient", func(t *testing.T) {
		assert.Equal(t, FailureTransient, KindOf(errors.New("element not found")))
	})

	t.Run("kind survives wrapping", func(t *testing.T) {
		inner := NewServerDown("geotrack.login", "HTTP 503 banner on /login")
		wrapped := fmt.Errorf("login step failed: %w", inner)
		assert.Equal(t, FailureServerDown, KindOf(wrapped))
		assert.True(t, IsServerDown(wrapped))
	})

	t.Run("config invalid carries the visible fleet", func(t *testing.T) {
		err := NewConfigInvalid("rastreosat.lookup", "XYZ999", []string{"ABC123", "DEF456"})
		var se *ScrapeError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, FailureConfigInvalid, se.Kind)
		assert.Equal(t, []string{"ABC123", "DEF456"}, se.KnownPlates)
		assert.Contains(t, err.Error(), "ABC123, DEF456")
	})

	t.Run("extraction failure carries raw text verbatim", func(t *testing.T) {
		raw := "Velocidad: 42 km/h\nsin coordenadas"
		err := NewExtractionFailure("movilsat.extract", raw, errors.New("no coordinates"))
		var se *ScrapeError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, raw, se.RawText)
	})
}

func TestPlatesEqual(t *testing.T) {
	assert.True(t, PlatesEqual("abc123", " ABC123 "))
	assert.False(t, PlatesEqual("BC12", "ABC123"), "substring must not match")
	assert.False(t, PlatesEqual("", ""))
}

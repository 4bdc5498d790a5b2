package caltime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStartOfDayAndEndOfDay(t *testing.T) {
	mid := time.Date(2026, 8, 1, 14, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), StartOfDay(mid))
	assert.Equal(t, time.Date(2026, 8, 1, 23, 59, 59, 999999999, time.UTC), EndOfDay(mid))
}

func TestToUTC_ConvertsNonUTCLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	local := time.Date(2026, 8, 1, 9, 0, 0, 0, loc)
	converted := ToUTC(local)
	assert.Equal(t, time.UTC, converted.Location())
	assert.Equal(t, 14, converted.Hour())
}

package auction

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestOrderHash(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)

	check.Equal(t, "ORD202406011230450007", OrderHash(at, 7))
	check.Equal(t, "ORD202406011230459999", OrderHash(at, 9999))

	// Item ids past four digits widen the suffix instead of truncating.
	check.Equal(t, "ORD2024060112304512345", OrderHash(at, 12345))
}

func TestOrderHashDistinctPerItem(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 30, 45, 0, time.UTC)
	check.NotEqual(t, OrderHash(at, 1), OrderHash(at, 2))
}

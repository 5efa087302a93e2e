package auction

import (
	"fmt"
	"time"
)

// OrderHash builds the human-readable order number assigned at settlement:
// "ORD" + local settlement time as YYYYMMDDHHMMSS + the item id zero-padded
// to four digits, e.g. ORD202401011200000005. Two items settling in the
// same second still differ by item id. Ids past 9999 widen instead of
// truncating, so uniqueness holds at any id width.
func OrderHash(at time.Time, itemID int64) string {
	return fmt.Sprintf("ORD%s%04d", at.Format("20060102150405"), itemID)
}

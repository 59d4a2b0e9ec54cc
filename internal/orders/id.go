package orders

import (
	"encoding/binary"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var orderIDPattern = regexp.MustCompile(`^ORD-\d{8}-[0-9A-Z]{8}$`)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewOrderID returns ORD-YYYYMMDD-XXXXXXXX, dated in UTC. The suffix is
// eight base-36 digits drawn from the random half of a v4 UUID.
func NewOrderID(now time.Time) string {
	u := uuid.New()
	n := binary.BigEndian.Uint64(u[8:])
	var suffix [8]byte
	for i := range suffix {
		suffix[i] = idAlphabet[n%36]
		n /= 36
	}
	return "ORD-" + now.UTC().Format("20060102") + "-" + string(suffix[:])
}

func ValidOrderID(s string) bool { return orderIDPattern.MatchString(s) }

package history

import (
	"crypto/sha256"
	"fmt"
	"io"
)

// GetName derives a stable database file name from the identifiers of an
// output location.
func GetName(ids ...string) string {
	h := sha256.New()
	for _, id := range ids {
		_, _ = io.WriteString(h, id)
	}
	return fmt.Sprintf("%x.db", h.Sum(nil))
}

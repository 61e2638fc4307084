package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/dbfleet/dbfleet/types"
)

// Key derives the cache key for an account×region matrix: SHA-256 over
// the sorted account:region pair list, truncated to 32 hex chars. The
// same matrix always produces the same key regardless of ordering.
func Key(targets []types.AccountTarget) string {
	var pairs []string
	for _, t := range targets {
		for _, region := range t.Regions {
			pairs = append(pairs, t.AccountID+":"+region)
		}
	}
	sort.Strings(pairs)

	sum := sha256.Sum256([]byte(strings.Join(pairs, ",")))
	return hex.EncodeToString(sum[:])[:32]
}

package domain

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zeebo/xxh3"
)

// Fingerprint hashes the stored fields of a title so an unchanged refetch
// can be told apart from a real change
// FetchedAt, Raw and the derived fields are left out
func Fingerprint(t NormalizedTitle) string {
	t.FetchedAt = time.Time{}
	t.Raw = nil
	t.ContentHash = ""
	t.CoverAsset = nil
	b, _ := json.Marshal(t)
	sum := xxh3.Hash128(b).Bytes()
	return hex.EncodeToString(sum[:])
}

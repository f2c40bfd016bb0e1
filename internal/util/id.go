package util

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"time"
)

func newID(prefix string) string {
	// 80 bits random + timestamp prefix for better sorting.
	var b [10]byte
	_, _ = rand.Read(b[:])
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b[:])
	enc = strings.ToLower(enc)
	return prefix + time.Now().UTC().Format("20060102t150405z") + "_" + enc
}

// NewIterationID returns a sortable id for one task.IterationResult, used
// where a time-ordered non-UUID id is more useful than a random uuid (e.g.
// scanning iteration logs by name).
func NewIterationID() string { return newID("iter_") }

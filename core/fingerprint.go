package core

import (
	"encoding/hex"

	"github.com/go-crypt/x/blake2b"
)

// Fingerprint is the content-derived identity of a Document. It doubles as the
// deduplication key and the primary key of the document's embedding.
type Fingerprint string

// FingerprintOf hashes the fields that make a document unique using BLAKE2b.
// Re-fetching an unchanged item yields the same fingerprint.
func FingerprintOf(sourceType SourceType, sourceRef, normalizedText string) Fingerprint {
	h, _ := blake2b.New(16, nil) // 16 bytes = 128 bits
	h.Write([]byte(sourceType.String()))
	h.Write([]byte{0})
	h.Write([]byte(sourceRef))
	h.Write([]byte{0})
	h.Write([]byte(normalizedText))
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Valid reports whether f has the shape produced by FingerprintOf.
func (f Fingerprint) Valid() bool {
	if len(f) != 32 {
		return false
	}
	_, err := hex.DecodeString(string(f))
	return err == nil
}

func (f Fingerprint) String() string {
	return string(f)
}

// Short returns an abbreviated form for log lines.
func (f Fingerprint) Short() string {
	if len(f) <= 8 {
		return string(f)
	}
	return string(f[:8])
}

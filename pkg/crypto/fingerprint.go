package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HMACFingerprinter derives stable, non-reversible identifiers from secret material
// so audit records can correlate credential sets without storing them.
type HMACFingerprinter struct {
	key []byte
}

var _ Fingerprinter = (*HMACFingerprinter)(nil)

func NewHMACFingerprinter(key []byte) (*HMACFingerprinter, error) {
	if len(key) == 0 {
		return nil, ErrEmptyKey
	}

	cloned := make([]byte, len(key))
	copy(cloned, key)
	return &HMACFingerprinter{key: cloned}, nil
}

func (f *HMACFingerprinter) Fingerprint(parts ...string) string {
	mac := hmac.New(sha256.New, f.key)
	for _, part := range parts {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		_, _ = mac.Write([]byte{byte(len(part) >> 24), byte(len(part) >> 16), byte(len(part) >> 8), byte(len(part))})
		_, _ = mac.Write([]byte(part))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

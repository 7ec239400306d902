package llm

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// DataURL encodes an image for providers that accept inline data URLs.
func DataURL(img Image) string {
	mt := img.MIMEType
	if mt == "" {
		mt = "image/jpeg"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Fingerprint is the hex sha256 of the page bytes.
func Fingerprint(img Image) string {
	sum := sha256.Sum256(img.Data)
	return hex.EncodeToString(sum[:])
}

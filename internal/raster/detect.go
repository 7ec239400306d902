package raster

import (
	"bytes"
	"encoding/base64"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/nfe-ocr/constants"
)

var pdfMagic = []byte("%PDF-")

// Detect resolves the document payload and reports whether it is a PDF.
// Checks run in order: the Path extension, the content type of a data URI,
// then the %PDF- signature. Anything that cannot be inspected is treated as an image.
func Detect(src Source) (payload []byte, isPDF bool) {
	payload = src.Data
	byExt := src.Path != "" && constants.MapExtToFormat(filepath.Ext(src.Path)) == constants.PDF

	if bytes.HasPrefix(payload, []byte("data:")) {
		header, decoded, ok := decodeDataURI(payload)
		if !ok {
			return payload, byExt
		}
		payload = decoded
		if byExt || strings.Contains(header, "application/pdf") {
			return payload, true
		}
	}
	if byExt {
		return payload, true
	}
	return payload, bytes.HasPrefix(payload, pdfMagic)
}

func decodeDataURI(uri []byte) (header string, data []byte, ok bool) {
	comma := bytes.IndexByte(uri, ',')
	if comma < 0 {
		return "", nil, false
	}
	header = string(uri[:comma])
	body := uri[comma+1:]
	if !strings.HasSuffix(header, ";base64") {
		return header, body, true
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(out, bytes.TrimSpace(body))
	if err != nil {
		return header, nil, false
	}
	return header, out[:n], true
}

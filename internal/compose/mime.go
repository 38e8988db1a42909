package compose

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// BuildMIME assembles a minimal HTML MIME message for the raw-send API.
func BuildMIME(from, to, subject, html string) []byte {
	msg := strings.Join([]string{
		fmt.Sprintf("From: %s", from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s", subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"",
		html,
	}, "\r\n")
	return []byte(msg)
}

// EncodeRaw encodes a MIME message the way Gmail-style raw send endpoints
// expect it: URL-safe base64 without padding.
func EncodeRaw(mime []byte) string {
	return base64.RawURLEncoding.EncodeToString(mime)
}

package notify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"time"
)

// alertEmail is the assembled alert message before MIME encoding.
type alertEmail struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
	// JPEG attachment, nil when no screenshot was captured.
	Image     []byte
	ImageName string
}

// buildMIMEMessage renders a multipart/mixed message: HTML body plus an
// optional inline JPEG attachment. CRLF line endings throughout, per
// RFC 5322.
func buildMIMEMessage(m alertEmail) []byte {
	var buf bytes.Buffer
	boundary := fmt.Sprintf("guard-%d", time.Now().UnixNano())

	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", m.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%s\r\n", boundary)
	fmt.Fprintf(&buf, "\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "Content-Transfer-Encoding: 8bit\r\n")
	fmt.Fprintf(&buf, "\r\n")
	buf.WriteString(m.HTMLBody)
	fmt.Fprintf(&buf, "\r\n")

	if len(m.Image) > 0 {
		name := m.ImageName
		if name == "" {
			name = "fall_detected.jpg"
		}
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(&buf, "Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n", name)
		fmt.Fprintf(&buf, "\r\n")
		writeBase64Wrapped(&buf, m.Image)
		fmt.Fprintf(&buf, "\r\n")
	}

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

// writeBase64Wrapped encodes data at the RFC 2045 76-column limit.
func writeBase64Wrapped(buf *bytes.Buffer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	const lineLen = 76
	for len(encoded) > lineLen {
		buf.WriteString(encoded[:lineLen])
		buf.WriteString("\r\n")
		encoded = encoded[lineLen:]
	}
	if len(encoded) > 0 {
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}
}

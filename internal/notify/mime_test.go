package notify

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuildMIMEMessageWithAttachment(t *testing.T) {
	msg := buildMIMEMessage(alertEmail{
		From:     "guard@example.com",
		To:       "user@example.com",
		Subject:  "Guard Alert: fall detected (91%)",
		HTMLBody: "<html><body>alert</body></html>",
		Image:    bytes.Repeat([]byte{0xab}, 200),
	})

	s := string(msg)
	for _, want := range []string{
		"From: guard@example.com\r\n",
		"To: user@example.com\r\n",
		"MIME-Version: 1.0\r\n",
		"Content-Type: multipart/mixed; boundary=",
		"Content-Type: text/html; charset=utf-8\r\n",
		"Content-Type: image/jpeg\r\n",
		`Content-Disposition: attachment; filename="fall_detected.jpg"`,
		"<html><body>alert</body></html>",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("message missing %q", want)
		}
	}

	// Base64 lines stay within the RFC 2045 limit.
	inB64 := false
	for _, line := range strings.Split(s, "\r\n") {
		if line == "Content-Transfer-Encoding: base64" {
			inB64 = true
			continue
		}
		if inB64 && strings.HasPrefix(line, "--") {
			inB64 = false
		}
		if inB64 && len(line) > 76 {
			t.Fatalf("base64 line of %d chars exceeds 76", len(line))
		}
	}
}

func TestBuildMIMEMessageWithoutAttachment(t *testing.T) {
	msg := buildMIMEMessage(alertEmail{
		From:     "guard@example.com",
		To:       "user@example.com",
		Subject:  "Guard Alert",
		HTMLBody: "<p>alert</p>",
	})

	if strings.Contains(string(msg), "image/jpeg") {
		t.Fatalf("attachment part present in a message without an image")
	}
}

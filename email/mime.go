package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// base64LineLength is the maximum encoded line length per RFC 2045.
const base64LineLength = 76

// MIME renders the message as a multipart/mixed RFC 5322 document. The From
// header uses the message sender, falling back to defaultFrom when the
// message has none; it is omitted if both are empty.
func (m *Message) MIME(defaultFrom string) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.WriteMIME(&buf, defaultFrom); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteMIME writes the document produced by MIME to w.
func (m *Message) WriteMIME(w io.Writer, defaultFrom string) error {
	var buf bytes.Buffer

	from := defaultFrom
	if addr, ok := m.From(); ok {
		from = addr.MIMEString()
	}
	if from != "" {
		fmt.Fprintf(&buf, "From: %s\r\n", from)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", joinAddresses(m.to, Address.MIMEString))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", m.subject))
	if replyTo, ok := m.ReplyTo(); ok {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", replyTo.MIMEString())
	}
	if !m.hasHeader("Message-Id") {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", m.messageID(from))
	}

	keys := make([]string, 0, len(m.headers))
	for k := range m.headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, m.headers[k])
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
	bodyHeader.Set("Content-Transfer-Encoding", "base64")
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := io.WriteString(part, encodeBase64WithLineBreaks([]byte(m.html))); err != nil {
		return fmt.Errorf("failed to write body part: %w", err)
	}

	for _, att := range m.attachments {
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", att.MIMEType())
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
			"filename": att.filename,
		}))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := io.WriteString(part, encodeBase64WithLineBreaks(att.content)); err != nil {
			return fmt.Errorf("failed to write attachment %q: %w", att.filename, err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	_, err = w.Write(buf.Bytes())
	return err
}

func (m *Message) hasHeader(name string) bool {
	for k := range m.headers {
		if textproto.CanonicalMIMEHeaderKey(k) == name {
			return true
		}
	}
	return false
}

// messageID builds "<uuid@domain>" using the sender's domain when known.
func (m *Message) messageID(from string) string {
	domain := "shoutbox.net"
	if at := strings.LastIndex(from, "@"); at >= 0 {
		d := strings.TrimRight(from[at+1:], ">")
		if d != "" {
			domain = d
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += base64LineLength {
		end := min(i+base64LineLength, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}

// Package parser reads RFC 5322 messages (for example .eml files) back into
// the email.Message model, handling MIME multipart bodies and attachments.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/shineum/shoutbox-go/email"
)

// structuralHeaders are rebuilt by email.Message.MIME and therefore not
// carried over as custom headers.
var structuralHeaders = map[string]bool{
	"From":                      true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Reply-To":                  true,
	"Subject":                   true,
	"Date":                      true,
	"Message-Id":                true,
	"Mime-Version":              true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
	"Received":                  true,
	"Return-Path":               true,
}

var headerDecoder = new(mime.WordDecoder)

// document accumulates the parts of a message while walking its MIME tree.
type document struct {
	textBody    string
	htmlBody    string
	attachments []email.Attachment
}

// Parse parses a raw RFC 5322 message into an email.Message. A message with
// only a plain text body gets an escaped <pre> HTML body. Cc and Bcc
// recipients are not part of the model and are dropped with a warning.
func Parse(raw []byte) (*email.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	draft := email.Draft{
		Subject: decodeHeader(msg.Header.Get("Subject")),
	}

	draft.To, err = parseAddressList(msg.Header.Get("To"))
	if err != nil {
		return nil, fmt.Errorf("invalid To header: %w", err)
	}
	if from := msg.Header.Get("From"); from != "" {
		draft.From, err = singleAddress(from, "from")
		if err != nil {
			return nil, fmt.Errorf("invalid From header: %w", err)
		}
	}
	if replyTo := msg.Header.Get("Reply-To"); replyTo != "" {
		draft.ReplyTo, err = singleAddress(replyTo, "reply_to")
		if err != nil {
			return nil, fmt.Errorf("invalid Reply-To header: %w", err)
		}
	}
	if msg.Header.Get("Cc") != "" || msg.Header.Get("Bcc") != "" {
		slog.Warn("dropping Cc/Bcc recipients from parsed message")
	}

	for key, values := range msg.Header {
		if structuralHeaders[textproto.CanonicalMIMEHeaderKey(key)] || len(values) == 0 {
			continue
		}
		if draft.Headers == nil {
			draft.Headers = make(map[string]string)
		}
		// Kept as received. Encoded words stay encoded so the value can be
		// written back out unchanged.
		draft.Headers[key] = values[0]
	}

	doc := &document{}
	if err := doc.readBody(msg); err != nil {
		return nil, err
	}

	draft.HTML = doc.htmlBody
	if draft.HTML == "" && doc.textBody != "" {
		draft.HTML = "<pre>" + html.EscapeString(doc.textBody) + "</pre>"
	}
	draft.Attachments = doc.attachments

	return email.NewMessage(draft)
}

func (d *document) readBody(msg *mail.Message) error {
	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return fmt.Errorf("failed to read message body: %w", readErr)
		}
		d.textBody = string(body)
		return nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart message missing boundary")
		}
		if err := d.readMultipart(msg.Body, boundary); err != nil {
			return fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return nil
	}

	body, err := decodeContent(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}
	if mediaType == "text/html" {
		d.htmlBody = string(body)
	} else {
		d.textBody = string(body)
	}
	return nil
}

// readMultipart walks a multipart body, recursing into nested multiparts.
func (d *document) readMultipart(body io.Reader, boundary string) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if params["boundary"] == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := d.readMultipart(part, params["boundary"]); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		content, err := decodeContent(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		isAttachment := strings.HasPrefix(part.Header.Get("Content-Disposition"), "attachment")
		switch {
		case !isAttachment && mediaType == "text/plain" && d.textBody == "":
			d.textBody = string(content)
		case !isAttachment && mediaType == "text/html" && d.htmlBody == "":
			d.htmlBody = string(content)
		default:
			att, err := email.NewAttachment(extractFilename(part, mediaType, params), content, mediaType)
			if err != nil {
				return err
			}
			d.attachments = append(d.attachments, att)
		}
	}
}

// decodeContent reads r and reverses a base64 Content-Transfer-Encoding.
// multipart.Reader already decodes quoted-printable parts.
func decodeContent(r io.Reader, encoding string) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(strings.TrimSpace(encoding)) != "base64" {
		return raw, nil
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
	}
	return decoded, nil
}

// extractFilename checks Content-Disposition, then the Content-Type name
// parameter, then falls back to a name derived from the media type.
func extractFilename(part *multipart.Part, mediaType string, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name := params["name"]; name != "" {
		return name
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

func parseAddressList(raw string) ([]email.Recipient, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		return nil, err
	}

	out := make([]email.Recipient, 0, len(addresses))
	for _, a := range addresses {
		addr, err := email.NewAddress(a.Address, a.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// singleAddress parses a header that must name exactly one mailbox. An
// empty group such as "undisclosed-recipients:;" names none.
func singleAddress(raw, field string) (email.Recipient, error) {
	addrs, err := parseAddressList(raw)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &email.ValidationError{Field: field, Value: raw, Reason: "no mailbox in header"}
	}
	return addrs[0], nil
}

func decodeHeader(v string) string {
	decoded, err := headerDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

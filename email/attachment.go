package email

import (
	"encoding/base64"
	"mime"
	"strings"
)

// DefaultContentType is used for attachments without an explicit type when
// assembling a MIME document.
const DefaultContentType = "application/octet-stream"

// Attachment is a file attached to a message. Its content is copied on
// construction and never mutated afterwards.
type Attachment struct {
	filename    string
	content     []byte
	contentType string
}

// EncodedAttachment is the API form of an attachment. The content type is
// intentionally absent; the hosted API does not accept it.
type EncodedAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// NewAttachment creates an Attachment. Empty content is allowed; an empty
// filename is not. contentType may be empty, otherwise it must be a single
// well-formed media type.
func NewAttachment(filename string, content []byte, contentType string) (Attachment, error) {
	if strings.TrimSpace(filename) == "" {
		return Attachment{}, &ValidationError{
			Field:  "attachment",
			Reason: "filename is required",
		}
	}

	if contentType != "" {
		if strings.ContainsAny(contentType, "\r\n") {
			return Attachment{}, &ValidationError{
				Field:  "attachment",
				Value:  contentType,
				Reason: "content type must not contain line breaks",
			}
		}
		if _, _, err := mime.ParseMediaType(contentType); err != nil {
			return Attachment{}, &ValidationError{
				Field:  "attachment",
				Value:  contentType,
				Reason: "invalid content type: " + err.Error(),
			}
		}
	}

	return Attachment{
		filename:    filename,
		content:     append([]byte(nil), content...),
		contentType: contentType,
	}, nil
}

// Filename returns the attachment's file name.
func (a Attachment) Filename() string { return a.filename }

// Content returns a copy of the raw attachment bytes.
func (a Attachment) Content() []byte { return append([]byte(nil), a.content...) }

// Size returns the length of the raw content in bytes.
func (a Attachment) Size() int { return len(a.content) }

// ContentType returns the explicit content type, or "" if none was given.
func (a Attachment) ContentType() string { return a.contentType }

// MIMEType returns the content type used in MIME assembly.
func (a Attachment) MIMEType() string {
	if a.contentType == "" {
		return DefaultContentType
	}
	return a.contentType
}

// Encoded returns the API representation with base64 content.
func (a Attachment) Encoded() EncodedAttachment {
	return EncodedAttachment{
		Filename: a.filename,
		Content:  base64.StdEncoding.EncodeToString(a.content),
	}
}

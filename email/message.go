package email

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// Draft holds the raw inputs of a message before normalization.
// From and ReplyTo may be nil.
type Draft struct {
	To          []Recipient
	From        Recipient
	ReplyTo     Recipient
	Subject     string
	HTML        string
	Headers     map[string]string
	Attachments []Attachment
}

// Message is a normalized email ready to be serialized by a provider.
// It owns copies of its addresses, headers and attachments.
type Message struct {
	to          []Address
	from        Address
	replyTo     Address
	subject     string
	html        string
	headers     map[string]string
	attachments []Attachment
}

// Payload is the JSON body accepted by the hosted send endpoint. Optional
// keys are omitted entirely when unset.
type Payload struct {
	To          string              `json:"to"`
	Subject     string              `json:"subject"`
	HTML        string              `json:"html"`
	From        string              `json:"from,omitempty"`
	Name        string              `json:"name,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Headers     map[string]string   `json:"headers,omitempty"`
	Attachments []EncodedAttachment `json:"attachments,omitempty"`
}

// NewMessage validates d and normalizes every address-like field into an
// Address. It returns a *ValidationError if any address is malformed, if
// there are no recipients, or if a header would break the MIME framing.
func NewMessage(d Draft) (*Message, error) {
	if len(d.To) == 0 {
		return nil, &ValidationError{Field: "to", Reason: "at least one recipient is required"}
	}

	msg := &Message{
		to:      make([]Address, 0, len(d.To)),
		subject: d.Subject,
		html:    d.HTML,
	}

	for _, r := range d.To {
		if r == nil {
			return nil, &ValidationError{Field: "to", Reason: "nil recipient"}
		}
		addr, err := r.recipient()
		if err != nil {
			return nil, err
		}
		msg.to = append(msg.to, addr)
	}

	var err error
	if d.From != nil {
		if msg.from, err = d.From.recipient(); err != nil {
			return nil, err
		}
	}
	if d.ReplyTo != nil {
		if msg.replyTo, err = d.ReplyTo.recipient(); err != nil {
			return nil, err
		}
	}

	for k, v := range d.Headers {
		if k == "" || strings.ContainsAny(k, "\r\n: ") {
			return nil, &ValidationError{Field: "headers", Value: k, Reason: "invalid header name"}
		}
		if strings.ContainsAny(v, "\r\n") {
			return nil, &ValidationError{Field: "headers", Value: k, Reason: "header value contains a line break"}
		}
	}
	if len(d.Headers) > 0 {
		msg.headers = maps.Clone(d.Headers)
	}

	for i, att := range d.Attachments {
		if att.filename == "" {
			return nil, &ValidationError{
				Field:  "attachments",
				Value:  fmt.Sprint(i),
				Reason: "attachment has no filename",
			}
		}
	}
	msg.attachments = append([]Attachment(nil), d.Attachments...)

	return msg, nil
}

// To returns the recipients in their original order.
func (m *Message) To() []Address { return append([]Address(nil), m.to...) }

// From returns the sender and whether one was set.
func (m *Message) From() (Address, bool) { return m.from, !m.from.IsZero() }

// ReplyTo returns the reply-to address and whether one was set.
func (m *Message) ReplyTo() (Address, bool) { return m.replyTo, !m.replyTo.IsZero() }

// Subject returns the subject line.
func (m *Message) Subject() string { return m.subject }

// HTML returns the HTML body.
func (m *Message) HTML() string { return m.html }

// Headers returns a copy of the custom headers.
func (m *Message) Headers() map[string]string { return maps.Clone(m.headers) }

// Attachments returns the attachments in their original order.
func (m *Message) Attachments() []Attachment { return append([]Attachment(nil), m.attachments...) }

// Draft returns the message's fields as a Draft, so a copy can be edited
// and passed back through NewMessage.
func (m *Message) Draft() Draft {
	d := Draft{
		To:          make([]Recipient, 0, len(m.to)),
		Subject:     m.subject,
		HTML:        m.html,
		Headers:     m.Headers(),
		Attachments: m.Attachments(),
	}
	for _, addr := range m.to {
		d.To = append(d.To, addr)
	}
	if from, ok := m.From(); ok {
		d.From = from
	}
	if replyTo, ok := m.ReplyTo(); ok {
		d.ReplyTo = replyTo
	}
	return d
}

// APIPayload returns the hosted API representation of the message.
func (m *Message) APIPayload() Payload {
	p := Payload{
		To:      joinAddresses(m.to, Address.String),
		Subject: m.subject,
		HTML:    m.html,
	}

	if from, ok := m.From(); ok {
		p.From = from.String()
		p.Name = from.Name()
	}
	if replyTo, ok := m.ReplyTo(); ok {
		p.ReplyTo = replyTo.String()
	}
	if len(m.headers) > 0 {
		p.Headers = maps.Clone(m.headers)
	}
	if len(m.attachments) > 0 {
		p.Attachments = make([]EncodedAttachment, 0, len(m.attachments))
		for _, att := range m.attachments {
			p.Attachments = append(p.Attachments, att.Encoded())
		}
	}

	return p
}

// MarshalJSON encodes the message as its API payload.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.APIPayload())
}

func joinAddresses(addrs []Address, format func(Address) string) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, format(a))
	}
	return strings.Join(parts, ",")
}

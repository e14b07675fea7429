// Package email defines the message model shared by every delivery provider:
// validated addresses, attachments and the message itself, together with the
// two wire forms it serializes into (the HTTP API payload and a MIME document).
package email

import (
	"net/mail"
	"regexp"
	"strings"
)

// addressPattern is the accepted bare address syntax: a local part of letters,
// digits and ._%+- followed by a dotted domain ending in a 2+ letter label.
var addressPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Address is a validated email address with an optional display name.
// The zero value is not a valid address; use ParseAddress or NewAddress.
type Address struct {
	email string
	name  string
}

// ParseAddress parses s as either a bare address ("a@b.com") or a combined
// form ("Name <a@b.com>").
func ParseAddress(s string) (Address, error) {
	return NewAddress(s, "")
}

// NewAddress parses s like ParseAddress. A non-empty name takes precedence
// over any display name found in s.
func NewAddress(s, name string) (Address, error) {
	parsedName, addr := splitAddress(s)
	if addr == "" || !addressPattern.MatchString(addr) {
		return Address{}, &ValidationError{
			Field:  "address",
			Value:  s,
			Reason: "invalid email address",
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = parsedName
	}
	return Address{email: addr, name: name}, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Email returns the bare address.
func (a Address) Email() string { return a.email }

// Name returns the display name, or "" if none.
func (a Address) Name() string { return a.name }

// IsZero reports whether a is the zero Address.
func (a Address) IsZero() bool { return a.email == "" }

// String returns "Name <email>" when a display name is set, else the bare email.
func (a Address) String() string {
	if a.name != "" {
		return a.name + " <" + a.email + ">"
	}
	return a.email
}

// MIMEString returns the address formatted for a MIME header, quoting and
// RFC 2047 encoding the display name where needed.
func (a Address) MIMEString() string {
	if a.name == "" {
		return a.email
	}
	return (&mail.Address{Name: a.name, Address: a.email}).String()
}

func (a Address) recipient() (Address, error) {
	if a.IsZero() || !addressPattern.MatchString(a.email) {
		return Address{}, &ValidationError{
			Field:  "address",
			Value:  a.email,
			Reason: "invalid email address",
		}
	}
	return a, nil
}

// splitAddress separates "Name <addr>" into its parts. A string without an
// angle-bracketed section is returned as a bare address with no name.
func splitAddress(s string) (name, addr string) {
	s = strings.TrimSpace(s)
	open := strings.LastIndex(s, "<")
	if open < 0 || !strings.HasSuffix(s, ">") {
		return "", s
	}

	addr = strings.TrimSpace(s[open+1 : len(s)-1])
	name = strings.TrimSpace(s[:open])
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		name = strings.TrimSpace(name[1 : len(name)-1])
	}
	return name, addr
}

// Recipient is any value accepted where a message expects an address: an
// Address or a RawAddress. Message construction normalizes every Recipient
// into an Address.
type Recipient interface {
	recipient() (Address, error)
}

// RawAddress is an unparsed address string such as "a@b.com" or
// "Name <a@b.com>".
type RawAddress string

func (r RawAddress) recipient() (Address, error) {
	return ParseAddress(string(r))
}

// Addresses converts raw address strings into Recipients.
func Addresses(ss ...string) []Recipient {
	out := make([]Recipient, 0, len(ss))
	for _, s := range ss {
		out = append(out, RawAddress(s))
	}
	return out
}

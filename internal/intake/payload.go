// Package intake turns JotForm webhook deliveries into canonical application
// submissions. Everything here is pure: no I/O, no failure modes.
package intake

import (
	"mime/multipart"
	"net/url"
)

// Value is one inbound form value. Binary values come from file parts and
// their content is never read.
type Value struct {
	Text     string
	Binary   bool
	Filename string
}

func Text(s string) Value {
	return Value{Text: s}
}

func File(name string) Value {
	return Value{Binary: true, Filename: name}
}

// Payload is a delivery keyed by form field name.
type Payload map[string]Value

// FromForm builds a payload from a parsed request form. Only the first value
// of a repeated key is kept. File parts win over text parts of the same name.
func FromForm(values url.Values, form *multipart.Form) Payload {
	payload := make(Payload, len(values))
	for key, items := range values {
		if len(items) == 0 {
			continue
		}
		payload[key] = Text(items[0])
	}
	if form == nil {
		return payload
	}
	for key, items := range form.Value {
		if _, ok := payload[key]; ok || len(items) == 0 {
			continue
		}
		payload[key] = Text(items[0])
	}
	for key, headers := range form.File {
		name := ""
		if len(headers) > 0 && headers[0] != nil {
			name = headers[0].Filename
		}
		payload[key] = File(name)
	}
	return payload
}

// TextFields returns the text values only, for archiving.
func (p Payload) TextFields() map[string]string {
	out := make(map[string]string, len(p))
	for key, value := range p {
		if value.Binary {
			continue
		}
		out[key] = value.Text
	}
	return out
}

// FileNames returns the file names of binary values keyed by field.
func (p Payload) FileNames() map[string]string {
	out := make(map[string]string)
	for key, value := range p {
		if value.Binary {
			out[key] = value.Filename
		}
	}
	return out
}

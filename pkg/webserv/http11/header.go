package http11

import "strings"

// Header is an ordered, case-insensitive header multimap.
//
// Fields keep the spelling they were added with and are serialized in
// insertion order. Lookups compare names case-insensitively per RFC 7230.
// The zero value is an empty header ready to use.
type Header struct {
	fields []headerField
}

type headerField struct {
	name  string
	value string
}

// Add appends a field, keeping any existing fields with the same name.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, headerField{name: name, value: value})
}

// Set replaces all fields named name with a single field. The first
// existing field keeps its position; without one the field is appended.
func (h *Header) Set(name, value string) {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			h.fields[i] = headerField{name: name, value: value}
			h.delFrom(name, i+1)
			return
		}
	}
	h.Add(name, value)
}

// Get returns the first value for name, or "" when absent.
func (h *Header) Get(name string) string {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			return h.fields[i].value
		}
	}
	return ""
}

// Values returns all values for name in insertion order.
func (h *Header) Values(name string) []string {
	var out []string
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			out = append(out, h.fields[i].value)
		}
	}
	return out
}

// Has reports whether a field named name exists.
func (h *Header) Has(name string) bool {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			return true
		}
	}
	return false
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	h.delFrom(name, 0)
}

func (h *Header) delFrom(name string, start int) {
	out := h.fields[:start]
	for _, f := range h.fields[start:] {
		if !strings.EqualFold(f.name, name) {
			out = append(out, f)
		}
	}
	for i := len(out); i < len(h.fields); i++ {
		h.fields[i] = headerField{}
	}
	h.fields = out
}

// Len returns the number of fields.
func (h *Header) Len() int {
	return len(h.fields)
}

// Reset removes all fields, keeping the allocated storage.
func (h *Header) Reset() {
	clear(h.fields)
	h.fields = h.fields[:0]
}

// VisitAll calls visitor for each field in insertion order.
// Iteration stops early if visitor returns false.
func (h *Header) VisitAll(visitor func(name, value string) bool) {
	for _, f := range h.fields {
		if !visitor(f.name, f.value) {
			return
		}
	}
}

// HasToken reports whether the comma-separated field named name contains
// token, compared case-insensitively (e.g. Connection: keep-alive, Upgrade).
func (h *Header) HasToken(name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// validFieldValue rejects CR, LF and NUL, which would allow response
// splitting when the value is written back to the wire.
func validFieldValue(v string) bool {
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '\r', '\n', 0:
			return false
		}
	}
	return true
}

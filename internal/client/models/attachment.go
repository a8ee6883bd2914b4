package models

import (
	"encoding/json"
	"path"
	"strings"
)

// Attachment describes a file stored by the file worker.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// ParseAttachments normalises every shape the archivos column has held over
// time into a list of attachments:
//
//   - a bare URL string
//   - a single object
//   - an array mixing URL strings and objects
//   - any of the above encoded once more as a JSON string
//
// Unrecognised input yields nil rather than an error; a broken legacy value
// must not hide the entry it belongs to.
func ParseAttachments(raw string) []Attachment {
	return parseAttachments(strings.TrimSpace(raw), 0)
}

func parseAttachments(raw string, depth int) []Attachment {
	if raw == "" || raw == "null" || depth > 2 {
		return nil
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		if a, ok := attachmentFromURL(raw); ok {
			return []Attachment{a}
		}
		return nil
	}

	switch t := v.(type) {
	case string:
		return parseAttachments(strings.TrimSpace(t), depth+1)
	case map[string]any:
		if a, ok := attachmentFromMap(t); ok {
			return []Attachment{a}
		}
	case []any:
		var out []Attachment
		for _, item := range t {
			switch it := item.(type) {
			case string:
				if a, ok := attachmentFromURL(it); ok {
					out = append(out, a)
				}
			case map[string]any:
				if a, ok := attachmentFromMap(it); ok {
					out = append(out, a)
				}
			}
		}
		return out
	}
	return nil
}

func attachmentFromURL(s string) (Attachment, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "{}[]\"") {
		return Attachment{}, false
	}
	return Attachment{URL: s, Name: nameFromURL(s)}, true
}

func attachmentFromMap(m map[string]any) (Attachment, bool) {
	a := Attachment{
		URL:  firstString(m, "url", "URL", "publicUrl", "path"),
		Name: firstString(m, "name", "fileName", "nombre", "filename"),
		Type: firstString(m, "type", "mimeType", "mime", "contentType"),
	}
	switch s := m["size"].(type) {
	case float64:
		a.Size = int64(s)
	case json.Number:
		a.Size, _ = s.Int64()
	}
	if a.URL == "" {
		return Attachment{}, false
	}
	if a.Name == "" {
		a.Name = nameFromURL(a.URL)
	}
	return a, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func nameFromURL(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return path.Base(u)
}

// EncodeAttachments renders the canonical form written by this client.
func EncodeAttachments(list []Attachment) (string, error) {
	if list == nil {
		list = []Attachment{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

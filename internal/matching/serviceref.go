package matching

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// RefKind tags the variant held by a ServiceRef.
type RefKind int

const (
	RefID RefKind = iota + 1
	RefTitle
	RefEmbedded
)

func (k RefKind) String() string {
	switch k {
	case RefID:
		return "id"
	case RefTitle:
		return "title"
	case RefEmbedded:
		return "embedded"
	}
	return "unknown"
}

var objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// ServiceRef is one entry of a doctor's services list or the service named
// by a booking request. Plain refs carry Value; embedded refs carry the
// structured fields of a service document.
type ServiceRef struct {
	Kind  RefKind
	Value string

	ID    string
	Title string
	Name  string
	Slug  string
}

// ParseServiceRef classifies a bare string as an id (uuid or 24-hex object
// id) or a title.
func ParseServiceRef(s string) ServiceRef {
	s = strings.TrimSpace(s)
	if looksLikeID(s) {
		return ServiceRef{Kind: RefID, Value: s}
	}
	return ServiceRef{Kind: RefTitle, Value: s}
}

// EmbeddedRef builds a structured ref.
func EmbeddedRef(id, title, name, slug string) ServiceRef {
	return ServiceRef{
		Kind:  RefEmbedded,
		ID:    strings.TrimSpace(id),
		Title: strings.TrimSpace(title),
		Name:  strings.TrimSpace(name),
		Slug:  strings.TrimSpace(slug),
	}
}

func looksLikeID(s string) bool {
	if objectIDPattern.MatchString(s) {
		return true
	}
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

// IsZero reports whether the ref carries nothing to match on.
func (r ServiceRef) IsZero() bool {
	return len(r.Keys()) == 0
}

// Label is a human-readable name for logs and error messages.
func (r ServiceRef) Label() string {
	if r.Kind != RefEmbedded {
		return r.Value
	}
	for _, s := range []string{r.Title, r.Name, r.Slug, r.ID} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Keys returns every non-empty normalized key the ref can match on.
func (r ServiceRef) Keys() []string {
	var raw []string
	if r.Kind == RefEmbedded {
		raw = []string{r.ID, r.Title, r.Name, r.Slug}
	} else {
		raw = []string{r.Value}
	}
	keys := make([]string, 0, len(raw))
	for _, s := range raw {
		if n := Normalize(s); n != "" {
			keys = append(keys, n)
		}
	}
	return keys
}

// Normalize is the single comparison form for service keys.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type embeddedJSON struct {
	MongoID string `json:"_id,omitempty"`
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Name    string `json:"name,omitempty"`
	Slug    string `json:"slug,omitempty"`
}

// MarshalJSON writes plain refs as a string and embedded refs as an object.
func (r ServiceRef) MarshalJSON() ([]byte, error) {
	if r.Kind != RefEmbedded {
		return json.Marshal(r.Value)
	}
	return json.Marshal(embeddedJSON{ID: r.ID, Title: r.Title, Name: r.Name, Slug: r.Slug})
}

// UnmarshalJSON accepts either a string or a service-shaped object.
func (r *ServiceRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = ParseServiceRef(s)
		return nil
	}
	var obj embeddedJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("service reference must be a string or object: %w", err)
	}
	id := obj.ID
	if id == "" {
		id = obj.MongoID
	}
	*r = EmbeddedRef(id, obj.Title, obj.Name, obj.Slug)
	return nil
}

// RefFromValue converts a loosely typed decoded value (string or map) into
// a ServiceRef. Unknown shapes yield ok=false.
func RefFromValue(v any) (ServiceRef, bool) {
	switch t := v.(type) {
	case string:
		return ParseServiceRef(t), true
	case ServiceRef:
		return t, true
	case map[string]any:
		id := stringField(t, "id")
		if id == "" {
			id = stringField(t, "_id")
		}
		ref := EmbeddedRef(id, stringField(t, "title"), stringField(t, "name"), stringField(t, "slug"))
		return ref, !ref.IsZero()
	}
	return ServiceRef{}, false
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case interface{ Hex() string }:
		return v.Hex()
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

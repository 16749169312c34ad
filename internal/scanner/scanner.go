// Package scanner defines the discovery contract and the built-in non-cloud scanners.
package scanner

import (
	"context"
	"fmt"
	"sort"

	"github.com/shaharia-lab/terediX/pkg/resource"
)

// Scanner discovers resources of one kind from one configured source.
//
// Scan writes resources to out as they are found and returns when the listing is
// complete. It never closes out. Connection-level failures are returned as *ScanError;
// resources already sent stay valid.
type Scanner interface {
	Name() string
	Kind() string
	Scan(ctx context.Context, out chan<- resource.Resource) error
}

// ScanError reports a failed run of one source.
type ScanError struct {
	Source string
	Kind   string
	Err    error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s (%s): %v", e.Source, e.Kind, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Emit sends r to out unless ctx is done first.
func Emit(ctx context.Context, out chan<- resource.Resource, r resource.Resource) error {
	select {
	case out <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tag is a provider key/value label.
type Tag struct {
	Key   string
	Value string
}

// FieldTags is the field name that expands provider tags into tag_<key> entries.
const FieldTags = "tags"

// FieldMapper turns a source record into metadata restricted to the configured fields.
type FieldMapper struct {
	mappings map[string]func() string
	tags     func() []Tag
	fields   []string
}

// NewFieldMapper creates a mapper. tags may be nil when the source has no labels.
func NewFieldMapper(mappings map[string]func() string, tags func() []Tag, fields []string) *FieldMapper {
	return &FieldMapper{mappings: mappings, tags: tags, fields: fields}
}

// MetaData evaluates the allowed fields. Unknown field names and empty values are skipped.
// The tags func is only called when tags are requested.
func (m *FieldMapper) MetaData() map[string]string {
	md := make(map[string]string, len(m.fields))
	for _, field := range m.fields {
		if field == FieldTags {
			if m.tags == nil {
				continue
			}
			for _, t := range m.tags() {
				if t.Key == "" || t.Value == "" {
					continue
				}
				md["tag_"+t.Key] = t.Value
			}
			continue
		}

		fn, ok := m.mappings[field]
		if !ok {
			continue
		}
		if v := fn(); v != "" {
			md[field] = v
		}
	}
	return md
}

// Fields returns the field names this mapper knows, sorted, including tags when supported.
func (m *FieldMapper) Fields() []string {
	out := make([]string, 0, len(m.mappings)+1)
	for k := range m.mappings {
		out = append(out, k)
	}
	if m.tags != nil {
		out = append(out, FieldTags)
	}
	sort.Strings(out)
	return out
}

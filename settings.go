package clickhouse

import (
	"fmt"
	"maps"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// Settings holds server settings sent as URL query parameters with every
// request, e.g. max_execution_time or max_block_size.
//
// A request captures a Snapshot when it is built, so changing Settings later
// never affects a request that is already queued or in flight.
type Settings struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSettings returns a store initialized with values.
func NewSettings(values map[string]any) *Settings {
	s := &Settings{values: make(map[string]string, len(values))}
	s.Apply(values)
	return s
}

// Get returns the value of a setting.
func (s *Settings) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Is reports whether a setting is present with a truthy value.
func (s *Settings) Is(name string) bool {
	v, ok := s.Get(name)
	return ok && v != "" && v != "0" && !strings.EqualFold(v, "false")
}

// Set stores a setting. A nil value removes it.
func (s *Settings) Set(name string, value any) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		delete(s.values, name)
	} else {
		s.values[name] = settingText(value)
	}
	return s
}

// Apply stores every entry of values, overriding existing settings.
func (s *Settings) Apply(values map[string]any) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		if v == nil {
			delete(s.values, k)
			continue
		}
		s.values[k] = settingText(v)
	}
	return s
}

// ApplyStruct stores the fields of v that carry a `query` tag. Nil pointer
// fields are skipped, so only the options that were set are sent.
func (s *Settings) ApplyStruct(v any) *Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.values, structSettings(v))
	return s
}

// Delete removes a setting.
func (s *Settings) Delete(name string) *Settings {
	return s.Set(name, nil)
}

// Snapshot returns a copy of the current settings.
func (s *Settings) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Names returns the setting names in sorted order.
func (s *Settings) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// mergeSettings composes request settings. Later layers win.
func mergeSettings(layers ...map[string]string) url.Values {
	merged := map[string]string{}
	for _, l := range layers {
		maps.Copy(merged, l)
	}
	params := make(url.Values, len(merged))
	for k, v := range merged {
		params.Set(k, v)
	}
	return params
}

func settingText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "1"
		}
		return "0"
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// CommonSettings names frequently used server settings. Only non-nil fields
// are sent.
//
//	client.Settings().ApplyStruct(clickhouse.CommonSettings{
//	    MaxExecutionTime: clickhouse.Ptr(60),
//	    Extremes:         clickhouse.Ptr(true),
//	})
type CommonSettings struct {
	MaxExecutionTime      *int    `query:"max_execution_time"`
	MaxBlockSize          *int    `query:"max_block_size"`
	MaxMemoryUsage        *int64  `query:"max_memory_usage"`
	MaxResultRows         *int64  `query:"max_result_rows"`
	ReadOnly              *int    `query:"readonly"`
	Extremes              *bool   `query:"extremes"`
	OutputFormatJSONQuote *bool   `query:"output_format_json_quote_64bit_integers"`
	SessionID             *string `query:"session_id"`
	SessionTimeout        *int    `query:"session_timeout"`
	WaitEndOfQuery        *bool   `query:"wait_end_of_query"`
}

// Ptr returns a pointer to v, for filling CommonSettings.
func Ptr[T any](v T) *T { return &v }

// structSettings converts a struct with `query` tags into settings.
// Nil pointer fields are skipped.
func structSettings(v any) map[string]string {
	out := map[string]string{}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return out
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return out
	}
	vt := rv.Type()
	for i := range vt.NumField() {
		fv, ft := rv.Field(i), vt.Field(i)
		tag := ft.Tag.Get("query")
		if tag == "" || !ft.IsExported() {
			continue
		}
		if fv.Kind() == reflect.Pointer || fv.Kind() == reflect.Interface {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		out[tag] = settingText(fv.Interface())
	}
	return out
}

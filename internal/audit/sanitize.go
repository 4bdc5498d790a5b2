package audit

import (
	"fmt"
	"reflect"
	"time"

	"github.com/auriora/calendar-archivist/internal/models"
)

// maxSanitizeDepth bounds recursive sanitization so a pathological or
// cyclic structure can never exhaust memory or stack space.
const maxSanitizeDepth = 8

// Sanitize converts v into a JSON-safe form suitable for an audit
// record's details/request_data/response_data column: times become
// RFC-3339 strings, domain models collapse to a small identifying
// projection, cycles are tagged rather than walked forever, and
// anything that can't be handled falls back to a placeholder instead
// of raising. Sanitization itself never panics.
func Sanitize(v any) any {
	result := sanitizeValue(v, 0, make(map[uintptr]bool))
	if result == nil {
		return map[string]any{}
	}
	if m, ok := result.(map[string]any); ok {
		return m
	}
	// A non-map top-level value (e.g. a bare slice) is still valid
	// JSON but the caller's map[string]any cast expects a map, so wrap it.
	return map[string]any{"value": result}
}

func sanitizeValue(v any, depth int, seen map[uintptr]bool) (result any) {
	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("<unserializable:%v>", r)
		}
	}()

	if v == nil {
		return nil
	}
	if depth > maxSanitizeDepth {
		return fmt.Sprintf("<max_depth_exceeded:%T>", v)
	}

	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case string, bool, int, int32, int64, float32, float64:
		return val
	case map[string]any:
		return sanitizeMap(val, depth, seen)
	case []any:
		return sanitizeSlice(val, depth, seen)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case *models.Appointment:
		return projectAppointment(val)
	case *models.ActionLog:
		return projectActionLog(val)
	case *models.EntityAssociation:
		return projectEntityAssociation(val)
	case *models.ArchiveConfiguration:
		return projectArchiveConfiguration(val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		return sanitizeReflectMap(rv, depth, seen)
	case reflect.Slice, reflect.Array:
		return sanitizeReflectSlice(rv, depth, seen)
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		ptr := rv.Pointer()
		if seen[ptr] {
			return fmt.Sprintf("<circular_reference:%T>", v)
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return sanitizeValue(rv.Elem().Interface(), depth+1, seen)
	case reflect.Struct:
		return sanitizeStruct(v, rv, depth, seen)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sanitizeMap(m map[string]any, depth int, seen map[uintptr]bool) map[string]any {
	if ptr := reflect.ValueOf(m).Pointer(); ptr != 0 {
		if seen[ptr] {
			return map[string]any{"_": fmt.Sprintf("<circular_reference:%T>", m)}
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = sanitizeValue(v, depth+1, seen)
	}
	return out
}

func sanitizeSlice(s []any, depth int, seen map[uintptr]bool) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = sanitizeValue(v, depth+1, seen)
	}
	return out
}

func sanitizeReflectMap(rv reflect.Value, depth int, seen map[uintptr]bool) map[string]any {
	if rv.Pointer() != 0 {
		ptr := rv.Pointer()
		if seen[ptr] {
			return map[string]any{"_": fmt.Sprintf("<circular_reference:%s>", rv.Type())}
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := fmt.Sprintf("%v", iter.Key().Interface())
		out[key] = sanitizeValue(iter.Value().Interface(), depth+1, seen)
	}
	return out
}

func sanitizeReflectSlice(rv reflect.Value, depth int, seen map[uintptr]bool) []any {
	if rv.Kind() == reflect.Slice && rv.Pointer() != 0 {
		ptr := rv.Pointer()
		if seen[ptr] {
			return []any{fmt.Sprintf("<circular_reference:%s>", rv.Type())}
		}
		seen[ptr] = true
		defer delete(seen, ptr)
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = sanitizeValue(rv.Index(i).Interface(), depth+1, seen)
	}
	return out
}

// sanitizeStruct is the fallback projection for structs not covered
// by the explicit model cases above: walk exported fields only.
func sanitizeStruct(v any, rv reflect.Value, depth int, seen map[uintptr]bool) map[string]any {
	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" { // unexported
			continue
		}
		out[field.Name] = sanitizeValue(rv.Field(i).Interface(), depth+1, seen)
	}
	return out
}

func projectAppointment(a *models.Appointment) map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{
		"_model_type": "Appointment",
		"_table_name": "appointments",
		"id":          a.ID,
		"subject":     a.Subject,
		"start_time":  a.StartTime.UTC().Format(time.RFC3339Nano),
		"end_time":    a.EndTime.UTC().Format(time.RFC3339Nano),
	}
}

func projectActionLog(a *models.ActionLog) map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{
		"_model_type": "ActionLog",
		"_table_name": "action_logs",
		"id":          a.ID,
		"event_type":  a.EventType,
		"state":       a.State,
	}
}

func projectEntityAssociation(a *models.EntityAssociation) map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{
		"_model_type":      "EntityAssociation",
		"_table_name":      "entity_associations",
		"id":               a.ID,
		"association_type": a.AssociationType,
	}
}

func projectArchiveConfiguration(a *models.ArchiveConfiguration) map[string]any {
	if a == nil {
		return nil
	}
	return map[string]any{
		"_model_type": "ArchiveConfiguration",
		"_table_name": "archive_configurations",
		"id":          a.ID,
		"name":        a.Name,
	}
}

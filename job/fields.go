package job

import (
	"fmt"
	"reflect"
	"time"

	"github.com/xraph/jobstore"
)

// Filter is a partial-field equality filter keyed by domain field names.
// An empty Filter matches every job. A nil value matches an absent field.
type Filter map[string]any

// Fields is a partial-field update keyed by domain field names. A nil value
// clears the field.
type Fields map[string]any

// Get returns the domain value of field and whether the field is present.
// Omitted zero values (empty worker, unset deadlines) report absent.
func (j *Job) Get(field string) (any, bool) {
	switch field {
	case FieldID:
		return j.ID, true
	case FieldStatus:
		return j.Status, true
	case FieldWorkerID:
		return j.WorkerID, j.WorkerID != ""
	case FieldAttempts:
		return j.Attempts, true
	case FieldExpires:
		return j.Expires, !j.Expires.IsZero()
	case FieldExpireMs:
		return j.ExpireMs, j.ExpireMs != 0
	case FieldStalls:
		return j.Stalls, !j.Stalls.IsZero()
	case FieldStallMs:
		return j.StallMs, j.StallMs != 0
	}
	v, ok := j.Data[field]
	return v, ok
}

// Matches reports whether every field of f equals the job's value.
func (j *Job) Matches(f Filter) bool {
	for field, want := range f {
		got, ok := j.Get(field)
		if !ok {
			if want != nil {
				return false
			}
			continue
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// Apply sets every field in f on the job. The id cannot be changed.
func (j *Job) Apply(f Fields) error {
	for field, v := range f {
		if err := j.set(field, v); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) set(field string, v any) error {
	switch field {
	case FieldID:
		return jobstore.ErrImmutableID
	case ReservedField:
		return reservedFieldError()
	case FieldStatus:
		s, ok := asString(v)
		if !ok {
			return fieldTypeError(field, v)
		}
		j.Status = Status(s)
	case FieldWorkerID:
		s, ok := asString(v)
		if !ok {
			return fieldTypeError(field, v)
		}
		j.WorkerID = s
	case FieldAttempts:
		n, ok := asInt(v)
		if !ok {
			return fieldTypeError(field, v)
		}
		j.Attempts = int(n)
	case FieldExpires:
		t, ok := asTime(v)
		if !ok {
			return fieldTypeError(field, v)
		}
		j.Expires = t
	case FieldExpireMs:
		n, ok := asInt(v)
		if !ok {
			return fieldTypeError(field, v)
		}
		j.ExpireMs = n
	case FieldStalls:
		t, ok := asTime(v)
		if !ok {
			return fieldTypeError(field, v)
		}
		j.Stalls = t
	case FieldStallMs:
		n, ok := asInt(v)
		if !ok {
			return fieldTypeError(field, v)
		}
		j.StallMs = n
	default:
		if v == nil {
			delete(j.Data, field)
			return nil
		}
		if j.Data == nil {
			j.Data = make(map[string]any)
		}
		j.Data[field] = v
	}
	return nil
}

func reservedFieldError() error {
	return fmt.Errorf("%w: %q", jobstore.ErrReservedField, ReservedField)
}

func fieldTypeError(field string, v any) error {
	return fmt.Errorf("job: field %q: unsupported value type %T", field, v)
}

// asString accepts nil (clear), strings, and string-kinded types like Status.
func asString(v any) (string, bool) {
	if v == nil {
		return "", true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.String {
		return "", false
	}
	return rv.String(), true
}

// asInt accepts nil (clear) and any integer kind.
func asInt(v any) (int64, bool) {
	if v == nil {
		return 0, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, true
	case time.Time:
		return t, true
	}
	return time.Time{}, false
}

// valuesEqual compares loosely enough that a Filter written with plain
// strings and ints matches typed job fields.
func valuesEqual(got, want any) bool {
	if gt, ok := got.(time.Time); ok {
		wt, ok := want.(time.Time)
		return ok && gt.Equal(wt)
	}
	if gs, ok := asString(got); ok && got != nil {
		ws, ok := asString(want)
		return ok && want != nil && gs == ws
	}
	if gi, ok := asInt(got); ok && got != nil {
		wi, ok := asInt(want)
		return ok && want != nil && gi == wi
	}
	return reflect.DeepEqual(got, want)
}

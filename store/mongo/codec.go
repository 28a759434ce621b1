package mongo

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/jobstore/job"
)

// primaryKey is the stored name of the domain "id" field.
const primaryKey = "_id"

// Encode maps a domain-shaped document to its stored shape by renaming "id"
// to "_id". Every other key passes through untouched, and doc itself is not
// modified. A domain document never carries "_id".
func Encode(doc bson.M) bson.M {
	if doc == nil {
		return nil
	}
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if k == job.FieldID {
			k = primaryKey
		}
		out[k] = v
	}
	return out
}

// Decode is the inverse of Encode: "_id" becomes "id".
func Decode(doc bson.M) bson.M {
	if doc == nil {
		return nil
	}
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if k == primaryKey {
			k = job.FieldID
		}
		out[k] = v
	}
	return out
}

// ── job helpers ─────────────────────────────────────

// encodeJob renders j in its stored shape.
func encodeJob(j *job.Job) (bson.M, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	raw, err := bson.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return Encode(doc), nil
}

// decodeJob reads a stored document back into a Job.
func decodeJob(raw bson.Raw) (*job.Job, error) {
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	b, err := bson.Marshal(Decode(doc))
	if err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	var j job.Job
	if err := bson.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	for k, v := range j.Data {
		j.Data[k] = plainValue(v)
	}
	return &j, nil
}

// plainValue converts a value decoded from an embedded field back to the
// shape callers wrote: documents become map[string]any, arrays []any,
// datetimes UTC time.Time, and int32 the int it was encoded from.
func plainValue(v any) any {
	switch x := v.(type) {
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = plainValue(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = plainValue(e)
		}
		return m
	case bson.A:
		a := make([]any, len(x))
		for i, e := range x {
			a[i] = plainValue(e)
		}
		return a
	case bson.DateTime:
		return x.Time().UTC()
	case int32:
		return int(x)
	}
	return v
}

// encodeFilter renders a domain filter as a stored-shape query.
func encodeFilter(f job.Filter) bson.M {
	if len(f) == 0 {
		return bson.M{}
	}
	return Encode(bson.M(f))
}

// encodeUpdate renders a partial update as $set and $unset documents. The
// fields are validated against a scratch job first so both backends reject
// the same inputs.
func encodeUpdate(f job.Fields) (bson.M, error) {
	if err := (&job.Job{}).Apply(f); err != nil {
		return nil, err
	}

	set := bson.M{}
	unset := bson.M{}
	for k, v := range f {
		if v == nil {
			unset[k] = ""
			continue
		}
		set[k] = v
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update, nil
}

// toInt64 reads a stored integer of any BSON numeric width.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}

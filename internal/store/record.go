package store

import "sort"

// Record is one row of a persisted series. Key holds the value of the
// synchronization column; Values holds every column in schema order,
// the synchronization column included (always first).
type Record struct {
	Key    int64
	Values []string
}

// Batch is an ordered set of records sharing one schema. The first
// schema column is the synchronization column.
type Batch struct {
	Schema  []string
	Records []Record
}

// Empty reports whether the batch carries no rows.
func (b Batch) Empty() bool {
	return len(b.Records) == 0
}

// Len returns the number of rows in the batch.
func (b Batch) Len() int {
	return len(b.Records)
}

// Sorted returns a copy of the batch with records in non-decreasing
// synchronization key order. The input batch is left untouched.
func (b Batch) Sorted() Batch {
	out := Batch{Schema: b.Schema, Records: make([]Record, len(b.Records))}
	copy(out.Records, b.Records)
	sort.SliceStable(out.Records, func(i, j int) bool {
		return out.Records[i].Key < out.Records[j].Key
	})
	return out
}

// Concat appends the rows of other after the rows of b. Schemas are
// taken from the first batch that has one; callers concatenate series
// of the same feed kind, which share a schema by construction.
func (b Batch) Concat(other Batch) Batch {
	out := b
	if len(out.Schema) == 0 {
		out.Schema = other.Schema
	}
	out.Records = append(append([]Record{}, b.Records...), other.Records...)
	return out
}

func sameSchema(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package report

import (
	"encoding/json"
	"time"
)

// Output keys of the flat report mapping.
const (
	KeyContactsWithComments = "count_with_comments"
	KeyPointsSum            = "points_sum"
)

// Report is the outcome of one Build. It is not modified after Build returns.
type Report struct {
	// ContactsWithComments counts contacts whose comments field is non-empty.
	ContactsWithComments Result[int]

	// Deals maps each configured label to the deal count of its category.
	Deals map[string]Result[int]

	// Labels lists the configured labels in configuration order.
	Labels []string

	// PointsSum is the integer-coerced sum of the score field over all items.
	PointsSum Result[int64]

	// GeneratedAt is when the build finished.
	GeneratedAt time.Time

	// Duration is how long the build took.
	Duration time.Duration
}

// AggregateError is the JSON shape of a failed aggregate.
type AggregateError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Errors returns the failed aggregates keyed by output key.
func (r *Report) Errors() map[string]AggregateError {
	errs := make(map[string]AggregateError)

	add := func(key string, err error) {
		if err != nil {
			errs[key] = AggregateError{Kind: Kind(err), Message: err.Error()}
		}
	}

	add(KeyContactsWithComments, r.ContactsWithComments.Err)
	for _, label := range r.Labels {
		add(label, r.Deals[label].Err)
	}
	add(KeyPointsSum, r.PointsSum.Err)

	return errs
}

// Map renders the flat key/value form of the report. Failed aggregates map
// to nil.
func (r *Report) Map() map[string]any {
	out := make(map[string]any, len(r.Labels)+3)

	out[KeyContactsWithComments] = value(r.ContactsWithComments)
	for _, label := range r.Labels {
		out[label] = value(r.Deals[label])
	}
	out[KeyPointsSum] = value(r.PointsSum)

	if errs := r.Errors(); len(errs) > 0 {
		out["errors"] = errs
	}

	return out
}

// MarshalJSON implements json.Marshaler.
func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

func value[T any](r Result[T]) any {
	if r.Err != nil {
		return nil
	}
	return r.Value
}

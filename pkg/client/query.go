package client

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
)

// Query describes one call to a Bitrix24 list method.
// It is passed by value; walkers copy it and only change Start.
type Query struct {
	// Method is the REST method name, e.g. "crm.contact.list".
	Method string

	// EntityTypeID is sent as entityTypeId when non-zero.
	EntityTypeID int

	// Filter maps field names (with optional operator prefix such as "!=")
	// to predicate values.
	Filter map[string]any

	// Select limits the returned fields. Empty means server default.
	Select []string

	// Start is the offset taken from the previous page's "next" cursor.
	Start int

	// Limit is the requested page size, sent as "limit" when positive.
	// Servers are free to ignore it.
	Limit int

	// ResultKey names the array inside "result" that holds the records,
	// e.g. "items" for crm.item.list. Empty means "result" is the array.
	ResultKey string
}

// WithStart returns a copy of q starting at the given offset.
func (q Query) WithStart(start int) Query {
	q.Start = start
	return q
}

// Values encodes the query the way PHP's http_build_query does, which is
// what the Bitrix24 REST endpoint expects. Keys are emitted in sorted order.
func (q Query) Values() url.Values {
	v := url.Values{}

	if q.EntityTypeID != 0 {
		v.Set("entityTypeId", strconv.Itoa(q.EntityTypeID))
	}

	if len(q.Filter) > 0 {
		keys := make([]string, 0, len(q.Filter))
		for key := range q.Filter {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			addValue(v, fmt.Sprintf("filter[%s]", key), q.Filter[key])
		}
	}

	for i, field := range q.Select {
		v.Set(fmt.Sprintf("select[%d]", i), field)
	}

	v.Set("start", strconv.Itoa(q.Start))

	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}

	return v
}

func addValue(v url.Values, key string, value any) {
	switch val := value.(type) {
	case nil:
		v.Set(key, "")
	case string:
		v.Set(key, val)
	case bool:
		if val {
			v.Set(key, "1")
		} else {
			v.Set(key, "0")
		}
	case []string:
		for i, item := range val {
			v.Set(fmt.Sprintf("%s[%d]", key, i), item)
		}
	case []int:
		for i, item := range val {
			v.Set(fmt.Sprintf("%s[%d]", key, i), strconv.Itoa(item))
		}
	default:
		v.Set(key, fmt.Sprint(val))
	}
}

// Record is a single remote entity as returned by the API.
// Numbers are decoded as json.Number.
type Record map[string]any

// Page is one response of a paginated list method.
type Page struct {
	Records []Record

	// Next is the continuation cursor. Zero means no further pages.
	Next int

	// Total is the server-reported match count, nil when absent.
	Total *int
}

// HasNext reports whether the page carries a continuation cursor.
func (p Page) HasNext() bool {
	return p.Next > 0
}

// Category is a deal pipeline.
type Category struct {
	ID   int
	Name string
}

package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Sternrassler/crm-report/pkg/client"
	"github.com/Sternrassler/crm-report/pkg/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scoreField = "ufCrm6_1721814262"

// itemPages serves the given pages in order, advancing the cursor by page length.
func itemPages(pages ...[]client.Record) (pagination.PageFunc, *[]client.Query) {
	var calls []client.Query
	return func(_ context.Context, q client.Query) (client.Page, error) {
		calls = append(calls, q)
		idx := len(calls) - 1
		if idx >= len(pages) {
			return client.Page{}, errors.New("no such page")
		}

		page := client.Page{Records: pages[idx]}
		if idx < len(pages)-1 {
			page.Next = q.Start + len(pages[idx])
		}
		return page, nil
	}, &calls
}

func newAccumulator() *FieldAccumulator {
	return NewFieldAccumulator(pagination.NewWalker(pagination.DefaultConfig()), 0)
}

func TestFieldAccumulator_MixedValues(t *testing.T) {
	fetch, calls := itemPages(
		[]client.Record{{scoreField: json.Number("10")}, {scoreField: "abc"}},
		[]client.Record{{scoreField: nil}, {scoreField: json.Number("5")}},
	)

	sum, err := newAccumulator().Sum(context.Background(), 1038, scoreField, fetch)
	require.NoError(t, err)

	assert.Equal(t, int64(15), sum)
	require.Len(t, *calls, 2)

	first := (*calls)[0]
	assert.Equal(t, "crm.item.list", first.Method)
	assert.Equal(t, 1038, first.EntityTypeID)
	assert.Equal(t, []string{scoreField}, first.Select)
	assert.Equal(t, DefaultPageSize, first.Limit)
	assert.Equal(t, "items", first.ResultKey)
	assert.Equal(t, 2, (*calls)[1].Start)
}

func TestFieldAccumulator_AllMissing(t *testing.T) {
	fetch, _ := itemPages(
		[]client.Record{{"id": json.Number("1")}, {"id": json.Number("2")}},
		[]client.Record{{"title": "x"}},
		[]client.Record{},
	)

	sum, err := newAccumulator().Sum(context.Background(), 1038, scoreField, fetch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)
}

func TestFieldAccumulator_SignedAndLargeValues(t *testing.T) {
	fetch, _ := itemPages(
		[]client.Record{{scoreField: json.Number("-20")}, {scoreField: json.Number("0")}},
		[]client.Record{{scoreField: json.Number("5000000000")}, {scoreField: "7"}, {scoreField: "1.5"}},
	)

	sum, err := newAccumulator().Sum(context.Background(), 1038, scoreField, fetch)
	require.NoError(t, err)
	assert.Equal(t, int64(4999999987), sum)
}

func TestFieldAccumulator_IgnoresRequestedPageSize(t *testing.T) {
	// Server caps pages at 50 although 1000 were requested.
	pages := make([][]client.Record, 0, 3)
	for p := 0; p < 3; p++ {
		page := make([]client.Record, 50)
		for i := range page {
			page[i] = client.Record{scoreField: json.Number("1")}
		}
		pages = append(pages, page)
	}
	fetch, calls := itemPages(pages...)

	sum, err := NewFieldAccumulator(pagination.NewWalker(pagination.DefaultConfig()), 1000).
		Sum(context.Background(), 1038, scoreField, fetch)
	require.NoError(t, err)

	assert.Equal(t, int64(150), sum)
	assert.Len(t, *calls, 3)
}

func TestFieldAccumulator_ErrorAbortsSum(t *testing.T) {
	boom := &client.TransportError{Method: "crm.item.list", ErrorClass: client.ErrorClassServer}
	calls := 0
	fetch := func(_ context.Context, q client.Query) (client.Page, error) {
		calls++
		if calls == 2 {
			return client.Page{}, boom
		}
		return client.Page{Records: []client.Record{{scoreField: json.Number("3")}}, Next: q.Start + 1}, nil
	}

	sum, err := newAccumulator().Sum(context.Background(), 1038, scoreField, fetch)

	assert.Equal(t, int64(0), sum)
	var terr *client.TransportError
	assert.ErrorAs(t, err, &terr)
}

func TestFieldAccumulator_Overflow(t *testing.T) {
	tests := []struct {
		name   string
		values []json.Number
	}{
		{"above max", []json.Number{"9223372036854775807", "1"}},
		{"below min", []json.Number{"-9223372036854775808", "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := make([]client.Record, 0, len(tt.values))
			for _, v := range tt.values {
				page = append(page, client.Record{scoreField: v})
			}
			fetch, _ := itemPages(page)

			sum, err := newAccumulator().Sum(context.Background(), 1038, scoreField, fetch)

			assert.Equal(t, int64(0), sum)
			var verr *client.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, scoreField, verr.Field)
			assert.Equal(t, "crm.item.list", verr.Method)
		})
	}
}

func TestFieldAccumulator_ExtremesWithoutOverflow(t *testing.T) {
	fetch, _ := itemPages(
		[]client.Record{{scoreField: json.Number("9223372036854775807")}},
		[]client.Record{{scoreField: json.Number("-9223372036854775808")}, {scoreField: json.Number("1")}},
	)

	sum, err := newAccumulator().Sum(context.Background(), 1038, scoreField, fetch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)
}

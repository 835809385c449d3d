package client

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseCursor(t *testing.T) {
	tests := []struct {
		raw      string
		expected int
	}{
		{``, 0},
		{`null`, 0},
		{`false`, 0},
		{`0`, 0},
		{`""`, 0},
		{`50`, 50},
		{`"100"`, 100},
		{`1000.0`, 1000},
		{`-5`, 0},
		{`"abc"`, 0},
		{`true`, 0},
		{`12.5`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := parseCursor(json.RawMessage(tt.raw)); got != tt.expected {
				t.Errorf("parseCursor(%s) = %d, want %d", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestParseTotal(t *testing.T) {
	tests := []struct {
		raw       string
		expected  int
		ok        bool
		expectErr bool
	}{
		{``, 0, false, false},
		{`null`, 0, false, false},
		{`12`, 12, true, false},
		{`"7"`, 7, true, false},
		{`0`, 0, true, false},
		{`"many"`, 0, false, true},
		{`1.5`, 0, false, true},
		{`-1`, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok, err := parseTotal("crm.deal.list", json.RawMessage(tt.raw))
			if tt.expectErr {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("parseTotal(%s) err = %v, want ValidationError", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTotal(%s) unexpected error: %v", tt.raw, err)
			}
			if got != tt.expected || ok != tt.ok {
				t.Errorf("parseTotal(%s) = (%d, %v), want (%d, %v)", tt.raw, got, ok, tt.expected, tt.ok)
			}
		})
	}
}

func TestPageFromEnvelope(t *testing.T) {
	tests := []struct {
		name        string
		query       Query
		body        string
		wantRecords int
		wantNext    int
		wantTotal   int
		wantSchema  string
	}{
		{
			name:        "flat result array",
			query:       Query{Method: "crm.contact.list"},
			body:        `{"result":[{"ID":"1"},{"ID":"2"}],"next":50,"total":120}`,
			wantRecords: 2,
			wantNext:    50,
			wantTotal:   120,
		},
		{
			name:        "items under result",
			query:       Query{Method: "crm.item.list", ResultKey: "items"},
			body:        `{"result":{"items":[{"id":1}]}}`,
			wantRecords: 1,
			wantTotal:   -1,
		},
		{
			name:        "empty page",
			query:       Query{Method: "crm.contact.list"},
			body:        `{"result":[],"total":0}`,
			wantRecords: 0,
		},
		{
			name:       "missing result",
			query:      Query{Method: "crm.contact.list"},
			body:       `{"total":3}`,
			wantSchema: "result",
		},
		{
			name:       "missing items key",
			query:      Query{Method: "crm.item.list", ResultKey: "items"},
			body:       `{"result":{"other":[]}}`,
			wantSchema: "result.items",
		},
		{
			name:       "result not an array",
			query:      Query{Method: "crm.contact.list"},
			body:       `{"result":{"a":1}}`,
			wantSchema: "result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := decodeEnvelope([]byte(tt.body))
			if err != nil {
				t.Fatalf("decodeEnvelope: %v", err)
			}

			page, err := pageFromEnvelope(tt.query, env)
			if tt.wantSchema != "" {
				var serr *SchemaError
				if !errors.As(err, &serr) {
					t.Fatalf("err = %v, want SchemaError", err)
				}
				if serr.Field != tt.wantSchema {
					t.Errorf("SchemaError.Field = %q, want %q", serr.Field, tt.wantSchema)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(page.Records) != tt.wantRecords {
				t.Errorf("records = %d, want %d", len(page.Records), tt.wantRecords)
			}
			if page.Next != tt.wantNext {
				t.Errorf("Next = %d, want %d", page.Next, tt.wantNext)
			}
			if tt.wantTotal >= 0 {
				if page.Total == nil || *page.Total != tt.wantTotal {
					t.Errorf("Total = %v, want %d", page.Total, tt.wantTotal)
				}
			} else if page.Total != nil {
				t.Errorf("Total = %d, want nil", *page.Total)
			}
		})
	}
}

func TestPageFromEnvelope_NumbersStayExact(t *testing.T) {
	env, err := decodeEnvelope([]byte(`{"result":{"items":[{"score":9007199254740993}]}}`))
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}

	page, err := pageFromEnvelope(Query{Method: "crm.item.list", ResultKey: "items"}, env)
	if err != nil {
		t.Fatalf("pageFromEnvelope: %v", err)
	}

	n, ok := page.Records[0]["score"].(json.Number)
	if !ok {
		t.Fatalf("score type = %T, want json.Number", page.Records[0]["score"])
	}
	if n.String() != "9007199254740993" {
		t.Errorf("score = %s", n)
	}
}

func TestCategoriesFromEnvelope(t *testing.T) {
	env, err := decodeEnvelope([]byte(`{"result":{"categories":[{"id":0,"name":"Общая"},{"id":"3","name":"Третья"}]}}`))
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}

	categories, err := categoriesFromEnvelope("crm.category.list", env)
	if err != nil {
		t.Fatalf("categoriesFromEnvelope: %v", err)
	}

	want := []Category{{ID: 0, Name: "Общая"}, {ID: 3, Name: "Третья"}}
	if len(categories) != len(want) {
		t.Fatalf("got %d categories, want %d", len(categories), len(want))
	}
	for i := range want {
		if categories[i] != want[i] {
			t.Errorf("categories[%d] = %+v, want %+v", i, categories[i], want[i])
		}
	}

	env, _ = decodeEnvelope([]byte(`{"result":{"categories":[{"id":"x","name":"bad"}]}}`))
	_, err = categoriesFromEnvelope("crm.category.list", env)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want ValidationError for non-numeric id", err)
	}

	env, _ = decodeEnvelope([]byte(`{"result":{}}`))
	_, err = categoriesFromEnvelope("crm.category.list", env)
	var serr *SchemaError
	if !errors.As(err, &serr) {
		t.Errorf("err = %v, want SchemaError for missing categories", err)
	}
}

package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/crm-report/pkg/ratelimit"
)

// envelope is the common shape of every Bitrix24 REST response.
type envelope struct {
	Result           json.RawMessage   `json:"result"`
	Next             json.RawMessage   `json:"next"`
	Total            json.RawMessage   `json:"total"`
	Error            string            `json:"error"`
	ErrorDescription string            `json:"error_description"`
	Time             *ratelimit.Timing `json:"time"`
}

func decodeEnvelope(body []byte) (*envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func isAbsent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

func decodeRecords(raw json.RawMessage) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	return records, nil
}

// pageFromEnvelope extracts records and pagination hints for q.
func pageFromEnvelope(q Query, env *envelope) (Page, error) {
	if isAbsent(env.Result) {
		return Page{}, &SchemaError{Method: q.Method, Field: "result"}
	}

	raw := env.Result
	field := "result"
	if q.ResultKey != "" {
		field = "result." + q.ResultKey

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(env.Result, &obj); err != nil {
			return Page{}, &SchemaError{Method: q.Method, Field: "result", Err: err}
		}
		inner, ok := obj[q.ResultKey]
		if !ok || isAbsent(inner) {
			return Page{}, &SchemaError{Method: q.Method, Field: field}
		}
		raw = inner
	}

	records, err := decodeRecords(raw)
	if err != nil {
		return Page{}, &SchemaError{Method: q.Method, Field: field, Err: err}
	}

	page := Page{
		Records: records,
		Next:    parseCursor(env.Next),
	}

	if total, ok, err := parseTotal(q.Method, env.Total); err != nil {
		return Page{}, err
	} else if ok {
		page.Total = &total
	}

	return page, nil
}

// parseCursor reads a "next" value leniently: any absent, false, empty,
// non-numeric or non-positive cursor means end of stream.
func parseCursor(raw json.RawMessage) int {
	if isAbsent(raw) {
		return 0
	}

	s := strings.TrimSpace(string(raw))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0
		}
		n = int(f)
	}
	if n < 0 {
		return 0
	}
	return n
}

// parseTotal reads a "total" value strictly. ok is false when absent.
func parseTotal(method string, raw json.RawMessage) (int, bool, error) {
	if isAbsent(raw) {
		return 0, false, nil
	}

	s := strings.TrimSpace(string(raw))
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false, &ValidationError{Method: method, Field: "total", Value: string(raw)}
	}
	return n, true, nil
}

// categoryList is the payload of crm.category.list.
type categoryList struct {
	Categories []struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	} `json:"categories"`
}

func categoriesFromEnvelope(method string, env *envelope) ([]Category, error) {
	if isAbsent(env.Result) {
		return nil, &SchemaError{Method: method, Field: "result"}
	}

	var list categoryList
	if err := json.Unmarshal(env.Result, &list); err != nil {
		return nil, &SchemaError{Method: method, Field: "result", Err: err}
	}
	if list.Categories == nil {
		return nil, &SchemaError{Method: method, Field: "result.categories"}
	}

	categories := make([]Category, 0, len(list.Categories))
	for i, c := range list.Categories {
		s := strings.TrimSpace(string(c.ID))
		if unq, err := strconv.Unquote(s); err == nil {
			s = unq
		}
		id, err := strconv.Atoi(s)
		if err != nil {
			return nil, &ValidationError{
				Method: method,
				Field:  fmt.Sprintf("result.categories[%d].id", i),
				Value:  string(c.ID),
			}
		}
		categories = append(categories, Category{ID: id, Name: c.Name})
	}

	return categories, nil
}

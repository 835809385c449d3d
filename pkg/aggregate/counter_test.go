package aggregate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Sternrassler/crm-report/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countsByID serves fixed counts and records every call.
type countsByID struct {
	mu     sync.Mutex
	counts map[int]int
	errs   map[int]error
	calls  []int
}

func (c *countsByID) count(_ context.Context, id int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, id)
	if err := c.errs[id]; err != nil {
		return 0, err
	}
	return c.counts[id], nil
}

func TestCategoryCounter_Count(t *testing.T) {
	catalog := []client.Category{{ID: 0, Name: "Общая"}, {ID: 1, Name: "Первая"}}
	remote := &countsByID{counts: map[int]int{0: 12, 1: 5}}

	got := NewCategoryCounter(4).Count(context.Background(), catalog, remote.count)

	assert.Equal(t, map[string]int{"Общая": 12, "Первая": 5}, got.ByName)
	assert.Empty(t, got.Failed)
	assert.ElementsMatch(t, []int{0, 1}, remote.calls)
}

func TestCategoryCounter_AbsentCategoryIsZero(t *testing.T) {
	catalog := []client.Category{{ID: 0, Name: "Общая"}, {ID: 1, Name: "Первая"}}
	remote := &countsByID{counts: map[int]int{0: 12, 1: 5}}

	got := NewCategoryCounter(1).Count(context.Background(), catalog, remote.count)

	assert.Equal(t, 0, got.Get("Вторая"))
	assert.NoError(t, got.Err("Вторая"))
}

func TestCategoryCounter_CategoryWithoutDealsIsZero(t *testing.T) {
	catalog := []client.Category{{ID: 0, Name: "Общая"}, {ID: 7, Name: "Пустая"}}
	remote := &countsByID{counts: map[int]int{0: 3}}

	got := NewCategoryCounter(2).Count(context.Background(), catalog, remote.count)

	count, ok := got.ByName["Пустая"]
	assert.True(t, ok)
	assert.Equal(t, 0, count)
}

func TestCategoryCounter_FailureIsIsolated(t *testing.T) {
	boom := errors.New("timeout")
	catalog := []client.Category{{ID: 0, Name: "Общая"}, {ID: 1, Name: "Первая"}, {ID: 2, Name: "Вторая"}}
	remote := &countsByID{
		counts: map[int]int{0: 12, 2: 9},
		errs:   map[int]error{1: boom},
	}

	got := NewCategoryCounter(3).Count(context.Background(), catalog, remote.count)

	assert.Equal(t, 12, got.Get("Общая"))
	assert.Equal(t, 9, got.Get("Вторая"))
	assert.Equal(t, 0, got.Get("Первая"))
	assert.ErrorIs(t, got.Err("Первая"), boom)
	_, present := got.ByName["Первая"]
	assert.False(t, present)
}

func TestCategoryCounter_DuplicateNameKeepsFirst(t *testing.T) {
	catalog := []client.Category{
		{ID: 0, Name: "Общая"},
		{ID: 4, Name: "Первая"},
		{ID: 5, Name: "Первая"},
	}
	remote := &countsByID{counts: map[int]int{0: 1, 4: 40, 5: 50}}

	got := NewCategoryCounter(1).Count(context.Background(), catalog, remote.count)

	assert.Equal(t, 40, got.Get("Первая"))
	require.Len(t, got.Duplicates, 1)
	assert.Equal(t, 5, got.Duplicates[0].ID)
	assert.Len(t, remote.calls, 3, "every category is still queried once")
}

func TestCategoryCounter_SequentialKeepsCatalogOrder(t *testing.T) {
	catalog := []client.Category{{ID: 3, Name: "c"}, {ID: 1, Name: "a"}, {ID: 2, Name: "b"}}
	remote := &countsByID{counts: map[int]int{}}

	NewCategoryCounter(0).Count(context.Background(), catalog, remote.count)

	assert.Equal(t, []int{3, 1, 2}, remote.calls)
}

func TestCategoryCounter_EmptyCatalog(t *testing.T) {
	remote := &countsByID{}

	got := NewCategoryCounter(4).Count(context.Background(), nil, remote.count)

	assert.Empty(t, got.ByName)
	assert.Empty(t, got.Failed)
	assert.Empty(t, remote.calls)
}

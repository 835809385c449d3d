// Package pagination walks Bitrix24 cursor-paginated list methods.
//
// Bitrix24 list responses carry a "next" offset which the caller sends back
// verbatim as "start". Pages therefore depend on each other and are fetched
// strictly one after another; there is no page count to parallelize over.
//
// Example usage:
//
//	walker := pagination.NewWalker(pagination.DefaultConfig())
//	records, err := walker.Walk(ctx, client.Query{
//		Method: "crm.contact.list",
//		Filter: map[string]any{"!=COMMENTS": ""},
//	}, bitrix.List)
//
// The walker:
//   - Re-issues the query with Start set to the previous page's Next
//   - Stops when Next is absent, zero or non-numeric
//   - Stops when Next does not advance past the current Start
//   - Aborts on the first fetch error and discards what it gathered
//   - Checks the context between pages
package pagination

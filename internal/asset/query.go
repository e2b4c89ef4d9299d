package asset

import (
	"sort"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
)

// BuildSearchQuery turns a search object into a record query. String values become
// case-insensitive substring matches OR-ed together; every other value is an exact
// match AND-ed with that group. An empty search matches everything.
func BuildSearchQuery(search map[string]any) records.Query {
	if len(search) == 0 {
		return records.All{}
	}
	keys := make([]string, 0, len(search))
	for k := range search {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	and := records.And{}
	var or records.Or
	for _, k := range keys {
		if pattern, ok := search[k].(string); ok {
			or = append(or, records.Match{Field: k, Pattern: pattern})
			continue
		}
		and = append(and, records.Eq{Field: k, Value: search[k]})
	}
	if len(or) > 0 {
		and = append(and, or)
	}
	return and
}

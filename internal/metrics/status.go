package metrics

import "sort"

// RouteCount is one row of the route tally.
type RouteCount struct {
	Route string
	Page  PageType
	Count uint64
}

// FlattenRoutes converts a route tally into rows sorted by descending count,
// then by route for stability. limit <= 0 returns every row.
func FlattenRoutes(routes map[string]uint64, limit int) []RouteCount {
	if len(routes) == 0 {
		return nil
	}
	rows := make([]RouteCount, 0, len(routes))
	for route, count := range routes {
		rows = append(rows, RouteCount{Route: route, Page: Classify(route), Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Route < rows[j].Route
		}
		return rows[i].Count > rows[j].Count
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

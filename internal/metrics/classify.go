package metrics

import "strings"

// PageType is the coarse category a route falls into.
type PageType string

const (
	PageHome  PageType = "home"
	PageAPI   PageType = "api"
	PageOther PageType = "other"
)

// Classify maps a route identifier to its page category.
// "/" is home, anything under "/api/" is api, everything else is other.
func Classify(route string) PageType {
	switch {
	case route == "/":
		return PageHome
	case strings.HasPrefix(route, "/api/"):
		return PageAPI
	default:
		return PageOther
	}
}

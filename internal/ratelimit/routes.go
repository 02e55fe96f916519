package ratelimit

import (
	"strings"

	"github.com/aristath/backmarket-repricer/internal/domain"
)

// RouteRule is one entry in the URL → bucket class classification
// table. Expressed as data rather than conditionals scattered across
// call sites.
type RouteRule struct {
	Substr string
	Class  domain.BucketClass
}

// defaultRouteTable is the fixed substring-match route map. Order
// matters: the first matching rule wins, so more specific substrings
// are listed first.
var defaultRouteTable = []RouteRule{
	{"/backbox/v1/competitors/", domain.BucketCompetitor},
	{"/competitors/", domain.BucketCompetitor},
	{"/sav/", domain.BucketCare},
	{"/messages", domain.BucketCare},
	{"/listings", domain.BucketCatalog},
}

// ClassifyURL returns the bucket class for a URL using the default
// route table. Everything that matches no rule falls back to GLOBAL,
// which is also the meta-limit applied to every request regardless of
// class.
func ClassifyURL(url string) domain.BucketClass {
	return ClassifyURLWithTable(url, defaultRouteTable)
}

// ClassifyURLWithTable classifies against a caller-supplied table,
// letting callers extend or override the default route map without
// touching this package.
func ClassifyURLWithTable(url string, table []RouteRule) domain.BucketClass {
	for _, rule := range table {
		if strings.Contains(url, rule.Substr) {
			return rule.Class
		}
	}
	return domain.BucketGlobal
}

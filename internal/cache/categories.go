// internal/cache/categories.go

package cache

import "strings"

// DomainCategory classifies a hostname for TTL scaling purposes only.
type DomainCategory string

const (
	CategoryStaticGov       DomainCategory = "static_gov"
	CategoryStaticDocs      DomainCategory = "static_docs"
	CategoryStaticEdu       DomainCategory = "static_edu"
	CategoryStaticWiki      DomainCategory = "static_wiki"
	CategoryStaticDefault   DomainCategory = "static_default"
	CategoryDynamicSocial   DomainCategory = "dynamic_social"
	CategoryDynamicNews     DomainCategory = "dynamic_news"
	CategoryDynamicCommerce DomainCategory = "dynamic_commerce"
	CategoryDefault         DomainCategory = "default"
)

// ttlMultipliers scales the base TTL per category.
var ttlMultipliers = map[DomainCategory]float64{
	CategoryStaticGov:       4.0,
	CategoryStaticDocs:      3.0,
	CategoryStaticEdu:       3.0,
	CategoryStaticWiki:      2.0,
	CategoryStaticDefault:   2.0,
	CategoryDynamicSocial:   0.25,
	CategoryDynamicNews:     0.5,
	CategoryDynamicCommerce: 0.75,
	CategoryDefault:         1.0,
}

// TTLMultiplier returns the TTL multiplier for a category.
func TTLMultiplier(category DomainCategory) float64 {
	if m, ok := ttlMultipliers[category]; ok {
		return m
	}
	return ttlMultipliers[CategoryDefault]
}

var socialHosts = []string{
	"twitter.com", "x.com", "facebook.com", "instagram.com", "tiktok.com",
	"reddit.com", "linkedin.com", "threads.net", "mastodon.social", "bsky.app",
}

var newsHosts = []string{
	"cnn.com", "bbc.com", "bbc.co.uk", "nytimes.com", "reuters.com",
	"theguardian.com", "washingtonpost.com", "bloomberg.com", "apnews.com",
}

var commerceHosts = []string{
	"amazon.", "ebay.", "etsy.com", "walmart.com", "target.com",
	"aliexpress.", "bestbuy.com", "shopify.com",
}

var docsHostParts = []string{
	"docs.", "developer.", "developers.", "readthedocs.", "devdocs.",
	"documentation.", "api.", "man7.org", "pkg.go.dev",
}

// CategorizeDomain maps a hostname to its cache category using suffix and
// substring patterns. The first matching rule wins; order goes from the most
// specific signals to the weakest.
func CategorizeDomain(host string) DomainCategory {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return CategoryDefault
	}

	for _, s := range socialHosts {
		if host == s || strings.HasSuffix(host, "."+s) {
			return CategoryDynamicSocial
		}
	}
	for _, n := range newsHosts {
		if host == n || strings.HasSuffix(host, "."+n) {
			return CategoryDynamicNews
		}
	}
	if strings.HasPrefix(host, "news.") || strings.Contains(host, ".news.") {
		return CategoryDynamicNews
	}
	for _, c := range commerceHosts {
		if strings.Contains(host, c) {
			return CategoryDynamicCommerce
		}
	}
	if strings.HasPrefix(host, "shop.") || strings.HasPrefix(host, "store.") {
		return CategoryDynamicCommerce
	}

	if strings.HasSuffix(host, ".gov") || strings.Contains(host, ".gov.") {
		return CategoryStaticGov
	}
	if strings.HasSuffix(host, ".edu") || strings.Contains(host, ".edu.") ||
		strings.HasSuffix(host, ".ac.uk") {
		return CategoryStaticEdu
	}
	if strings.Contains(host, "wikipedia.org") || strings.Contains(host, "wikimedia.org") ||
		strings.HasPrefix(host, "wiki.") {
		return CategoryStaticWiki
	}
	for _, d := range docsHostParts {
		if strings.HasPrefix(host, d) || strings.Contains(host, d) {
			return CategoryStaticDocs
		}
	}
	if strings.HasSuffix(host, ".org") {
		return CategoryStaticDefault
	}

	return CategoryDefault
}

package scrape

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Marketplace is a vehicle marketplace or auction site whose listing pages
// can be scraped.
type Marketplace struct {
	Name  string
	Hosts []string
	// ListingPaths are glob patterns for listing pages. A pattern ending in
	// "/*" also matches deeper paths. Empty means any path on the host.
	ListingPaths []string
}

// DefaultMarketplaces lists the recognized retail marketplaces and auctions.
var DefaultMarketplaces = []Marketplace{
	{Name: "autotrader", Hosts: []string{"autotrader.com"}, ListingPaths: []string{"/cars-for-sale/vehicle/*", "/cars-for-sale/vehicledetails*"}},
	{Name: "cars.com", Hosts: []string{"cars.com"}, ListingPaths: []string{"/vehicledetail/*"}},
	{Name: "cargurus", Hosts: []string{"cargurus.com"}, ListingPaths: []string{"/cars/*", "/details/*"}},
	{Name: "craigslist", Hosts: []string{"craigslist.org"}, ListingPaths: []string{"/*/cto/*", "/*/ctd/*", "/cto/*", "/ctd/*"}},
	{Name: "facebook", Hosts: []string{"facebook.com"}, ListingPaths: []string{"/marketplace/item/*"}},
	{Name: "ebay", Hosts: []string{"ebay.com"}, ListingPaths: []string{"/itm/*"}},
	{Name: "carvana", Hosts: []string{"carvana.com"}, ListingPaths: []string{"/vehicle/*"}},
	{Name: "carmax", Hosts: []string{"carmax.com"}, ListingPaths: []string{"/car/*"}},
	{Name: "copart", Hosts: []string{"copart.com"}, ListingPaths: []string{"/lot/*"}},
	{Name: "iaai", Hosts: []string{"iaai.com"}, ListingPaths: []string{"/vehicledetail/*", "/vehicle/*"}},
	{Name: "bringatrailer", Hosts: []string{"bringatrailer.com"}, ListingPaths: []string{"/listing/*"}},
	{Name: "carsandbids", Hosts: []string{"carsandbids.com"}, ListingPaths: []string{"/auctions/*"}},
}

// MarketplaceMatcher recognizes listing URLs on known marketplaces.
type MarketplaceMatcher struct {
	marketplaces []Marketplace
}

// NewMarketplaceMatcher creates a matcher. Falls back to DefaultMarketplaces
// if none are provided.
func NewMarketplaceMatcher(marketplaces []Marketplace) *MarketplaceMatcher {
	if len(marketplaces) == 0 {
		marketplaces = DefaultMarketplaces
	}
	return &MarketplaceMatcher{marketplaces: marketplaces}
}

// Match returns the marketplace rawURL is a listing page on.
func (m *MarketplaceMatcher) Match(rawURL string) (Marketplace, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Marketplace{}, false
	}
	host := strings.ToLower(u.Hostname())
	urlPath := strings.ToLower(u.Path)

	for _, mp := range m.marketplaces {
		if !hostMatches(host, mp.Hosts) {
			continue
		}
		if len(mp.ListingPaths) == 0 {
			return mp, true
		}
		for _, pattern := range mp.ListingPaths {
			if matchSegmented(strings.ToLower(pattern), urlPath) {
				return mp, true
			}
		}
	}
	return Marketplace{}, false
}

var urlRe = regexp.MustCompile(`https?://[^\s<>"'\x60]+`)

// FindListingURLs returns the distinct recognized listing URLs in text, in
// order of appearance.
func (m *MarketplaceMatcher) FindListingURLs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range urlRe.FindAllString(text, -1) {
		raw = strings.TrimRight(raw, ".,;:!?)]}")
		if seen[raw] {
			continue
		}
		if _, ok := m.Match(raw); ok {
			seen[raw] = true
			out = append(out, raw)
		}
	}
	return out
}

func hostMatches(host string, hosts []string) bool {
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// matchSegmented performs glob matching where a pattern like "/*/cto/*"
// matches "/atl/cto/d/2014-ford-f150/7712345.html": each pattern segment is
// matched with path.Match and a trailing "/*" accepts any deeper path.
func matchSegmented(pattern, urlPath string) bool {
	urlPath = strings.TrimSuffix(urlPath, "/")
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if !strings.HasSuffix(pattern, "/*") {
		return false
	}

	patSegs := strings.Split(strings.TrimSuffix(pattern, "/*"), "/")
	pathSegs := strings.Split(urlPath, "/")
	if len(pathSegs) <= len(patSegs) {
		return false
	}
	for i, seg := range patSegs {
		if ok, _ := path.Match(seg, pathSegs[i]); !ok {
			return false
		}
	}
	return true
}

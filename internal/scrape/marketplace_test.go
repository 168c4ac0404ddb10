package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarketplaceMatcher_Match(t *testing.T) {
	m := NewMarketplaceMatcher(nil)

	tests := []struct {
		url  string
		want string
	}{
		{"https://www.autotrader.com/cars-for-sale/vehicle/712345", "autotrader"},
		{"https://www.autotrader.com/cars-for-sale/vehicledetails.xhtml?listingId=712345", "autotrader"},
		{"https://www.cars.com/vehicledetail/4c1f7a0e/", "cars.com"},
		{"https://atlanta.craigslist.org/atl/cto/d/atlanta-2014-ford-f150/7712345.html", "craigslist"},
		{"https://www.facebook.com/marketplace/item/1234567890/", "facebook"},
		{"https://www.ebay.com/itm/2014-Ford-F-150/3141592653", "ebay"},
		{"https://www.copart.com/lot/45678901/clean-title-2014-ford-f150-xlt-ga-atlanta", "copart"},
		{"https://bringatrailer.com/listing/2014-ford-f-150-7/", "bringatrailer"},
		{"HTTPS://WWW.CARGURUS.COM/Cars/inventorylisting/viewDetailsFilterViewInventoryListing.action", "cargurus"},
		{"https://www.autotrader.com/", ""},
		{"https://www.ebay.com/itm/", ""},
		{"https://www.notebay.com/itm/123", ""},
		{"https://example.com/cars/123", ""},
		{"ftp://www.copart.com/lot/1", ""},
		{"::not a url", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			mp, ok := m.Match(tt.url)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, tt.want, mp.Name)
		})
	}
}

func TestMarketplaceMatcher_FindListingURLs(t *testing.T) {
	m := NewMarketplaceMatcher(nil)

	notes := "Looking at this one (https://www.copart.com/lot/45678901/ford-f150). " +
		"Also saw https://example.com/blog/post and https://www.copart.com/lot/45678901/ford-f150 again, " +
		"plus https://www.ebay.com/itm/3141592653."

	got := m.FindListingURLs(notes)
	assert.Equal(t, []string{
		"https://www.copart.com/lot/45678901/ford-f150",
		"https://www.ebay.com/itm/3141592653",
	}, got)
}

func TestMarketplaceMatcher_FindListingURLs_None(t *testing.T) {
	m := NewMarketplaceMatcher(nil)
	assert.Empty(t, m.FindListingURLs("cosmetic damage only, see https://example.com"))
	assert.Empty(t, m.FindListingURLs(""))
}

func TestMarketplaceMatcher_Custom(t *testing.T) {
	m := NewMarketplaceMatcher([]Marketplace{{Name: "dealer", Hosts: []string{"dealer.example"}}})
	mp, ok := m.Match("https://inventory.dealer.example/anything")
	assert.True(t, ok)
	assert.Equal(t, "dealer", mp.Name)

	_, ok = m.Match("https://www.ebay.com/itm/1")
	assert.False(t, ok)
}

func TestMatchSegmented(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/itm/*", "/itm/123", true},
		{"/itm/*", "/itm/a/b/c", true},
		{"/itm/*", "/itm", false},
		{"/itm/*", "/itm/", false},
		{"/*/cto/*", "/atl/cto/d/x.html", true},
		{"/*/cto/*", "/cto/d/x.html", false},
		{"/cars-for-sale/vehicledetails*", "/cars-for-sale/vehicledetails.xhtml", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSegmented(tt.pattern, tt.path))
		})
	}
}

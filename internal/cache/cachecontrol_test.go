// internal/cache/cachecontrol_test.go
package cache

import (
	"reflect"
	"testing"
)

func TestParseCacheControl(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   CacheControl
	}{
		{
			name:   "simple max-age",
			header: "max-age=300",
			want:   CacheControl{"max-age": "300"},
		},
		{
			name:   "mixed directives",
			header: "public, max-age=3600, must-revalidate",
			want:   CacheControl{"public": "", "max-age": "3600", "must-revalidate": ""},
		},
		{
			name:   "case and whitespace",
			header: " No-Cache ,  Max-Age=60 ",
			want:   CacheControl{"no-cache": "", "max-age": "60"},
		},
		{
			name:   "quoted value",
			header: `private="set-cookie"`,
			want:   CacheControl{"private": "set-cookie"},
		},
		{
			name:   "empty header",
			header: "",
			want:   CacheControl{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCacheControl(tt.header); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseCacheControl(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestCacheControlRoundTrip(t *testing.T) {
	directives := []CacheControl{
		{"max-age": "300"},
		{"no-store": "", "no-cache": ""},
		{"public": "", "max-age": "3600", "s-maxage": "7200", "must-revalidate": ""},
		{},
	}

	for _, cc := range directives {
		got := ParseCacheControl(FormatCacheControl(cc))
		if !reflect.DeepEqual(got, cc) {
			t.Errorf("round trip mismatch: %v -> %q -> %v", cc, FormatCacheControl(cc), got)
		}
	}
}

func TestCacheControlSemantics(t *testing.T) {
	tests := []struct {
		header   string
		noStore  bool
		maxAge   int
		hasAge   bool
		explicit bool
	}{
		{"no-store", true, 0, false, true},
		{"no-cache", true, 0, false, true},
		{"max-age=300", false, 300, true, true},
		{"s-maxage=120, max-age=60", false, 120, true, true},
		{"max-age=-5", false, 0, false, false},
		{"public", false, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			cc := ParseCacheControl(tt.header)
			if cc.NoStore() != tt.noStore {
				t.Errorf("NoStore() = %v, want %v", cc.NoStore(), tt.noStore)
			}
			age, ok := cc.MaxAgeSeconds()
			if ok != tt.hasAge || (ok && age != tt.maxAge) {
				t.Errorf("MaxAgeSeconds() = (%d, %v), want (%d, %v)", age, ok, tt.maxAge, tt.hasAge)
			}
			if cc.Explicit() != tt.explicit {
				t.Errorf("Explicit() = %v, want %v", cc.Explicit(), tt.explicit)
			}
		})
	}
}

// internal/fetch/ssrf_test.go
package fetch

import "testing"

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"plain https", "https://example.com/page", false},
		{"plain http", "http://example.com", false},
		{"http with safe port", "https://example.com:8443/x", false},
		{"ftp scheme", "ftp://example.com/file", true},
		{"file scheme", "file:///etc/passwd", true},
		{"loopback ip", "http://127.0.0.1/", true},
		{"loopback ipv6", "http://[::1]/", true},
		{"private 10", "http://10.1.2.3/", true},
		{"private 192.168", "http://192.168.1.1/admin", true},
		{"private 172.16", "http://172.16.0.1/", true},
		{"link local", "http://169.254.169.254/latest/meta-data/", true},
		{"unspecified", "http://0.0.0.0/", true},
		{"localhost", "http://localhost/", true},
		{"localhost subdomain", "http://foo.localhost/", true},
		{"internal suffix", "http://db.cluster.internal/", true},
		{"metadata host", "http://metadata.google.internal/", true},
		{"redis port", "http://example.com:6379/", true},
		{"ssh port", "http://example.com:22/", true},
		{"postgres port", "http://example.com:5432/", true},
		{"no host", "http:///path", true},
		{"garbage", "://///", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

// internal/utils/utils_test.go
package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHostname(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://Example.COM/page", "example.com"},
		{"http://sub.example.com:8080/x?y=1", "sub.example.com"},
		{"http://127.0.0.1:9999/", "127.0.0.1"},
		{"not a url at all \x7f", ""},
	}
	for _, tt := range tests {
		if got := Hostname(tt.url); got != tt.want {
			t.Errorf("Hostname(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestRegistrableDomain(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"a.b.example.com", "example.com"},
		{"example.co.uk", "example.co.uk"},
		{"deep.example.co.uk", "example.co.uk"},
		{"localhost", "localhost"},
	}
	for _, tt := range tests {
		if got := RegistrableDomain(tt.host); got != tt.want {
			t.Errorf("RegistrableDomain(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestIsSubdomainOf(t *testing.T) {
	tests := []struct {
		host, domain string
		want         bool
	}{
		{"example.com", "example.com", true},
		{"a.example.com", "example.com", true},
		{"a.b.example.com", "example.com", true},
		{"notexample.com", "example.com", false},
		{"example.com", "a.example.com", false},
	}
	for _, tt := range tests {
		if got := IsSubdomainOf(tt.host, tt.domain); got != tt.want {
			t.Errorf("IsSubdomainOf(%q, %q) = %v", tt.host, tt.domain, got)
		}
	}
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("hello"))
	b := ContentHash([]byte("hello"))
	c := ContentHash([]byte("world"))
	if a != b {
		t.Error("hash should be deterministic")
	}
	if a == c {
		t.Error("different content should hash differently")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16 hex chars", len(a))
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "store.json")

	if err := WriteFileAtomic(path, []byte(`{"v":1}`), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != `{"v":1}` {
		t.Fatalf("read back = %q, %v", data, err)
	}

	// Overwrite leaves no temp files behind.
	if err := WriteFileAtomic(path, []byte(`{"v":2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory entries = %d, want just the store", len(entries))
	}
}

func TestClampDuration(t *testing.T) {
	min, max := time.Second, time.Minute
	tests := []struct {
		in, want time.Duration
	}{
		{time.Millisecond, time.Second},
		{30 * time.Second, 30 * time.Second},
		{2 * time.Hour, time.Minute},
	}
	for _, tt := range tests {
		if got := ClampDuration(tt.in, min, max); got != tt.want {
			t.Errorf("ClampDuration(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMinDuration(t *testing.T) {
	tests := []struct {
		a, b, want time.Duration
	}{
		{time.Second, time.Minute, time.Second},
		{0, time.Minute, time.Minute},
		{time.Second, 0, time.Second},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := MinDuration(tt.a, tt.b); got != tt.want {
			t.Errorf("MinDuration(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

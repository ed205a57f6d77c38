// internal/proxy/risk_test.go
package proxy

import (
	"net/http"
	"testing"
	"time"
)

func TestRiskClassifier_DefaultIsLow(t *testing.T) {
	c := NewRiskClassifier(nil)

	risk := c.Classify("example.com")
	if risk.Level != RiskLow {
		t.Errorf("fresh domain level = %v, want low", risk.Level)
	}
	if risk.RecommendedTier != TierDatacenter {
		t.Errorf("fresh domain tier = %v, want datacenter", risk.RecommendedTier)
	}
}

func TestRiskClassifier_DetectProtection(t *testing.T) {
	tests := []struct {
		name    string
		headers http.Header
		body    string
		want    string
	}{
		{
			name:    "cf-ray header",
			headers: http.Header{"Cf-Ray": []string{"8b2f-IAD"}},
			want:    "cloudflare",
		},
		{
			name:    "server header",
			headers: http.Header{"Server": []string{"cloudflare"}},
			want:    "cloudflare",
		},
		{
			name: "challenge body",
			body: "<html><title>Just a moment...</title></html>",
			want: "cloudflare",
		},
		{
			name: "perimeterx body",
			body: `<div id="px-captcha"></div>`,
			want: "perimeterx",
		},
		{
			name:    "datadome header",
			headers: http.Header{"X-Datadome": []string{"1"}},
			want:    "datadome",
		},
		{
			name: "recaptcha widget",
			body: `<div class="g-recaptcha" data-sitekey="x"></div>`,
			want: "recaptcha",
		},
		{
			name: "clean page",
			body: "<html><body>plain content</body></html>",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewRiskClassifier(nil)
			got := c.DetectProtectionFromResponse("example.com", tt.headers, tt.body)
			if got != tt.want {
				t.Errorf("DetectProtectionFromResponse = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRiskClassifier_ProtectionRaisesRisk(t *testing.T) {
	c := NewRiskClassifier(nil)

	c.DetectProtectionFromResponse("guarded.com", http.Header{"Cf-Ray": []string{"x"}}, "")
	c.RecordFailure("guarded.com", true)
	c.RecordFailure("guarded.com", true)

	risk := c.Classify("guarded.com")
	if risk.Level == RiskLow {
		t.Errorf("protected domain with blocked failures classified low: %+v", risk)
	}
	if risk.RecommendedTier == TierDatacenter {
		t.Errorf("elevated risk should recommend above datacenter, got %v", risk.RecommendedTier)
	}
}

func TestRiskClassifier_SuccessLowersRisk(t *testing.T) {
	c := NewRiskClassifier(&RiskConfig{CacheTTL: time.Nanosecond, EnableLearning: true})

	for i := 0; i < 4; i++ {
		c.RecordFailure("flaky.com", true)
	}
	elevated := c.Classify("flaky.com")

	for i := 0; i < 30; i++ {
		c.RecordSuccess("flaky.com")
	}
	time.Sleep(time.Millisecond) // let the cached classification expire
	relaxed := c.Classify("flaky.com")

	if levelRank(relaxed.Level) >= levelRank(elevated.Level) {
		t.Errorf("risk should relax after successes: %v -> %v", elevated.Level, relaxed.Level)
	}
}

func levelRank(l RiskLevel) int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 3
	}
}

func TestRiskClassifier_CachedClassification(t *testing.T) {
	c := NewRiskClassifier(&RiskConfig{CacheTTL: time.Hour, EnableLearning: true})

	first := c.Classify("stable.com")
	// Non-blocked failures do not invalidate the cache.
	c.RecordFailure("stable.com", false)
	second := c.Classify("stable.com")

	if !first.ClassifiedAt.Equal(second.ClassifiedAt) {
		t.Error("classification should be served from cache within TTL")
	}
}

func TestRiskClassifier_RecommendedDelay(t *testing.T) {
	c := NewRiskClassifier(nil)
	if d := c.RecommendedDelay("calm.com"); d != 0 {
		t.Errorf("low risk delay = %v, want 0", d)
	}

	c.DetectProtectionFromResponse("hot.com", nil, "just a moment...")
	for i := 0; i < 5; i++ {
		c.RecordFailure("hot.com", true)
	}
	if d := c.RecommendedDelay("hot.com"); d == 0 {
		t.Error("elevated risk should recommend a delay")
	}
}

func TestRiskClassifier_LearningDisabled(t *testing.T) {
	c := NewRiskClassifier(&RiskConfig{CacheTTL: time.Nanosecond, EnableLearning: false})

	c.DetectProtectionFromResponse("x.com", http.Header{"Cf-Ray": []string{"x"}}, "")
	for i := 0; i < 10; i++ {
		c.RecordFailure("x.com", true)
	}
	time.Sleep(time.Millisecond)
	if risk := c.Classify("x.com"); risk.Level != RiskLow {
		t.Errorf("learning disabled should keep risk low, got %v", risk.Level)
	}
}

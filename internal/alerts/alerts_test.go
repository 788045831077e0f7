package alerts

import (
	"strings"
	"testing"

	"bursar/pkg/logging"
)

func TestIsConfigured(t *testing.T) {
	as := NewAlertService(logging.NewLogger())
	if as.IsConfigured() {
		t.Fatal("expected unconfigured service without SMTP env")
	}

	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_USER", "alerts")
	t.Setenv("SMTP_PASSWORD", "secret")
	t.Setenv("FROM_EMAIL", "alerts@example.com")
	t.Setenv("ALERT_EMAIL", "ops@example.com")

	if !NewAlertService(logging.NewLogger()).IsConfigured() {
		t.Fatal("expected configured service")
	}
}

func TestRenderTemplate(t *testing.T) {
	as := NewAlertService(logging.NewLogger())

	body, err := as.renderTemplate("low_runway", AlertData{PoolBalance: "$20.00", RunwayDays: 12})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "$20.00") || !strings.Contains(body, "12 days") {
		t.Fatalf("rendered body missing values: %s", body)
	}

	body, err = as.renderTemplate("usage_threshold", AlertData{OrgID: "org-1", Percent: 80, UsedAmount: "$8.00", LimitAmount: "$10.00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "80%") || !strings.Contains(body, "org-1") {
		t.Fatalf("rendered body missing values: %s", body)
	}

	if _, err := as.renderTemplate("nope", AlertData{}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestNotifySkipsWhenUnconfigured(t *testing.T) {
	as := NewAlertService(logging.NewLogger())

	// Must not panic or attempt delivery.
	as.NotifyLowRunway(2000, 10)
	as.NotifyUsageThreshold("org-1", 95, 950, 1000)
}

package pricing

import (
	"testing"

	"bursar/pkg/logging"
)

func TestCost_KnownModel(t *testing.T) {
	table := NewTable(logging.NewLogger())

	// gpt-4o: 250 in / 1000 out cents per Mtok.
	// 1M input + 1M output = 250 + 1000 = 1250 cents.
	got := table.Cost("gpt-4o", 1_000_000, 1_000_000)
	if got != 1250 {
		t.Fatalf("expected 1250 cents, got %d", got)
	}
}

func TestCost_RoundsUp(t *testing.T) {
	table := NewTable(logging.NewLogger())

	// 1 input token on gpt-4o is 250/1M of a cent, which must round up to 1.
	got := table.Cost("gpt-4o", 1, 0)
	if got != 1 {
		t.Fatalf("expected fractional cost to round up to 1, got %d", got)
	}
}

func TestCost_ZeroTokens(t *testing.T) {
	table := NewTable(logging.NewLogger())

	if got := table.Cost("gpt-4o", 0, 0); got != 0 {
		t.Fatalf("expected zero cost for zero tokens, got %d", got)
	}
}

func TestCost_NegativeTokensClamped(t *testing.T) {
	table := NewTable(logging.NewLogger())

	if got := table.Cost("gpt-4o", -500, 0); got != 0 {
		t.Fatalf("expected negative tokens to clamp to zero cost, got %d", got)
	}
}

func TestCost_UnknownModelUsesFallback(t *testing.T) {
	table := NewTable(logging.NewLogger())

	// Fallback rate is 300/1500 cents per Mtok.
	got := table.Cost("some-future-model", 1_000_000, 1_000_000)
	if got != 1800 {
		t.Fatalf("expected fallback cost 1800, got %d", got)
	}

	if _, known := table.Lookup("some-future-model"); known {
		t.Fatal("expected unknown model to not be listed")
	}
}

func TestNewTable_EnvOverride(t *testing.T) {
	t.Setenv("MODEL_PRICES_JSON", `{"gpt-4o":{"input_cents_per_mtok":100,"output_cents_per_mtok":200},"custom-model":{"input_cents_per_mtok":50,"output_cents_per_mtok":75}}`)

	table := NewTable(logging.NewLogger())

	if got := table.Cost("gpt-4o", 1_000_000, 1_000_000); got != 300 {
		t.Fatalf("expected overridden cost 300, got %d", got)
	}
	if _, known := table.Lookup("custom-model"); !known {
		t.Fatal("expected custom-model to be listed after override")
	}
}

func TestNewTable_InvalidOverrideIgnored(t *testing.T) {
	t.Setenv("MODEL_PRICES_JSON", `{not json`)

	table := NewTable(logging.NewLogger())

	if got := table.Cost("gpt-4o", 1_000_000, 0); got != 250 {
		t.Fatalf("expected built-in price to survive invalid override, got %d", got)
	}
}

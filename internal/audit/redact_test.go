package audit

import "testing"

func TestMaskEmailIdempotent(t *testing.T) {
	cases := []string{"alice@example.com", "a@example.com", "not-an-email"}
	for _, c := range cases {
		once := MaskEmail(c)
		twice := MaskEmail(once)
		if once != twice {
			t.Fatalf("MaskEmail not idempotent for %q: %q vs %q", c, once, twice)
		}
	}
}

func TestMaskEmailFormat(t *testing.T) {
	if got := MaskEmail("alice@example.com"); got != "a***@example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestMaskTelephoneKeepsFourVisibleDigits(t *testing.T) {
	got := MaskTelephone("+8613800001234")
	if len(got) < 4 {
		t.Fatalf("too short: %q", got)
	}
	if got[:2] != "+8" || got[len(got)-2:] != "34" {
		t.Fatalf("unexpected mask: %q", got)
	}
}

func TestMaskFileURLCollapsesPath(t *testing.T) {
	got := MaskFileURL("https://blob.example.com/files/abc/contract-123.pdf")
	want := "https://blob.example.com/.../contract-123.pdf"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if MaskFileURL(got) != got {
		t.Fatalf("not idempotent: %q -> %q", got, MaskFileURL(got))
	}
}

func TestRedactWalksNestedStructures(t *testing.T) {
	input := map[string]any{
		"email":    "bob@example.com",
		"password": "hunter2",
		"contacts": []any{
			map[string]any{"email": "carol@example.com", "telephone": "13800001234"},
		},
		"order_url": "https://erp.example.com/orders/SO001",
		"safe":      "unchanged",
	}
	out, err := Redact(input)
	if err != nil {
		t.Fatalf("redact: %v", err)
	}
	result, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", out)
	}
	if result["email"] != "b***@example.com" {
		t.Fatalf("email not masked: %v", result["email"])
	}
	if result["password"] != redactedPlaceholder {
		t.Fatalf("password not redacted: %v", result["password"])
	}
	if result["safe"] != "unchanged" {
		t.Fatalf("safe field mutated: %v", result["safe"])
	}
	contacts, ok := result["contacts"].([]any)
	if !ok || len(contacts) != 1 {
		t.Fatalf("contacts not preserved: %v", result["contacts"])
	}
	contact := contacts[0].(map[string]any)
	if contact["email"] != "c***@example.com" {
		t.Fatalf("nested email not masked: %v", contact["email"])
	}
}

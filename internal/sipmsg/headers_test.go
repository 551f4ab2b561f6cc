package sipmsg

import "testing"

// Compact and full header forms must canonicalize to the same internal
// name, or a PDU using the compact form would silently fail the mandatory
// header check and CallID() lookups (spec §4.2's compact-form table).
func TestCanonicalNameCompactAndFullFormsAgree(t *testing.T) {
	cases := [][2]string{
		{"i", "Call-ID"},
		{"f", "From"},
		{"t", "To"},
		{"m", "Contact"},
		{"l", "Content-Length"},
		{"v", "Via"},
		{"c", "Content-Type"},
		{"s", "Subject"},
		{"e", "Content-Encoding"},
	}
	for _, c := range cases {
		compact, full := canonicalName(c[0]), canonicalName(c[1])
		if compact != full {
			t.Errorf("compact form %q canonicalizes to %q, full form %q canonicalizes to %q", c[0], compact, c[1], full)
		}
	}
}

func TestHeadersGetIsCaseAndFormInsensitive(t *testing.T) {
	var h Headers
	h.Add("i", "abc@host")
	if got := h.Get("Call-ID"); got != "abc@host" {
		t.Fatalf("Get(\"Call-ID\") after Add(\"i\", ...) = %q, want abc@host", got)
	}
	if !h.Has("call-id") {
		t.Fatal("Has(\"call-id\") should match a header added via its compact form")
	}
}

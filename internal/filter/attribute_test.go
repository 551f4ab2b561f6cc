package filter

import "testing"

func TestBuiltinAttributeExtraction(t *testing.T) {
	call := buildCall(t, sampleInvite)
	r := NewRegistry()

	cases := map[string]string{
		"method":  "INVITE",
		"sipfrom": "Alice <sip:alice@example.com>;tag=aaa",
		"sipto":   "Bob <sip:bob@example.com>",
		"index":   call.IndexString(),
		"state":   "CallSetup",
	}
	for name, want := range cases {
		if got := r.Value(name, call); got != want {
			t.Errorf("attribute %s = %q, want %q", name, got, want)
		}
	}
}

func TestBuiltinAttributeFromUserExtractsURIUser(t *testing.T) {
	call := buildCall(t, sampleInvite)
	r := NewRegistry()
	if got := r.Value("sipfromuser", call); got != "sip:alice@example.com" {
		t.Fatalf("sipfromuser = %q", got)
	}
}

func TestAttributeCacheInvalidatesOnChange(t *testing.T) {
	call := buildCall(t, sampleInvite)
	r := NewRegistry()

	if got := r.Value("msgcnt", call); got != "1" {
		t.Fatalf("msgcnt = %q, want 1", got)
	}

	call.Changed = false // simulate the snapshot consumer having observed this version

	call.Messages = append(call.Messages, call.Messages[0])
	call.Changed = true

	if got := r.Value("msgcnt", call); got != "2" {
		t.Fatalf("mutable msgcnt attribute did not refresh after Changed: got %q", got)
	}
}

func TestRegisterRegexAttribute(t *testing.T) {
	call := buildCall(t, sampleInvite)
	r := NewRegistry()

	if err := r.RegisterRegexAttribute("myattr", "My Attr", 10, `Call-ID: (?P<value>[^\r\n]+)`); err != nil {
		t.Fatalf("RegisterRegexAttribute: %v", err)
	}
	if got := r.Value("myattr", call); got != "dfilter-1@10.0.0.1" {
		t.Fatalf("myattr = %q", got)
	}
}

func TestRegisterRegexAttributeRejectsBadPattern(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterRegexAttribute("bad", "Bad", 5, "(unclosed"); err == nil {
		t.Fatal("expected an error for an invalid regexp")
	}
}

package scram

import "testing"

func TestIsASCIIPrintable(t *testing.T) {
	if !IsASCIIPrintable("pencil") {
		t.Error("pencil should be ASCII printable")
	}
	if IsASCIIPrintable("pen\tcil") {
		t.Error("tab is not printable")
	}
	if IsASCIIPrintable("penécil") {
		t.Error("non-ASCII rune should fail the printable check")
	}
}

func TestPrepareUnchangedForPlainASCII(t *testing.T) {
	p := Preparer{}
	got, err := p.Prepare("pencil")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got != "pencil" {
		t.Errorf("Prepare(pencil) = %q, want unchanged", got)
	}
}

func TestPrepareMapsNonASCIISpaceAndDeletesMappedToNothing(t *testing.T) {
	p := Preparer{}
	// U+00A0 (non-breaking space) folds to U+0020; U+00AD (soft hyphen) is
	// deleted entirely.
	input := "a b­c"
	got, err := p.Prepare(input)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got != "a bc" {
		t.Errorf("Prepare(%q) = %q, want %q", input, got, "a bc")
	}
}

func TestPrepareRejectsProhibitedOutput(t *testing.T) {
	p := Preparer{}
	// U+0007 is an ASCII control character, prohibited by C.2.1.
	if _, err := p.Prepare("pen\x07cil"); err == nil {
		t.Error("expected error for control character in password")
	}
}

func TestPrepareRejectsInvalidUTF8(t *testing.T) {
	p := Preparer{}
	if _, err := p.Prepare(string([]byte{0xC0, 0xAF})); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestPrepareBidiRejectsMixedRandALCatAndLCat(t *testing.T) {
	p := Preparer{}
	// U+05D0 (Hebrew aleph, RandALCat) mixed with ASCII 'a' (LCat).
	if _, err := p.Prepare("aא"); err == nil {
		t.Error("expected bidi error mixing RandALCat and LCat")
	}
}

func TestPrepareBidiAllowsPureRandALCat(t *testing.T) {
	p := Preparer{}
	got, err := p.Prepare("אב")
	if err != nil {
		t.Fatalf("pure RandALCat password should be accepted: %v", err)
	}
	if got == "" {
		t.Error("expected non-empty normalized password")
	}
}

func TestPrepareUnavailableFallsBackToASCIIOnly(t *testing.T) {
	p := Preparer{Unavailable: true}
	got, err := p.Prepare("pencil")
	if err != nil || got != "pencil" {
		t.Fatalf("Prepare(pencil) with Unavailable = (%q, %v), want (pencil, nil)", got, err)
	}
	if _, err := p.Prepare("penécil"); err == nil {
		t.Error("expected KindEncoding error for non-ASCII password when SASLprep unavailable")
	}
}

func TestEscapeUsername(t *testing.T) {
	cases := map[string]string{
		"user":   "user",
		"a,b=c":  "a=2Cb=3Dc",
		"=":      "=3D",
		",":      "=2C",
	}
	for in, want := range cases {
		if got := escapeUsername(in); got != want {
			t.Errorf("escapeUsername(%q) = %q, want %q", in, got, want)
		}
	}
}

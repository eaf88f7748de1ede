package i18n

import "testing"

func TestInitAndLanguages(t *testing.T) {
	Init("en")
	if GetLang() != "en" {
		t.Fatalf("expected lang 'en', got %q", GetLang())
	}
	have := map[string]bool{}
	for _, tag := range Languages() {
		have[tag] = true
	}
	for _, want := range []string{"en", "de"} {
		if !have[want] {
			t.Fatalf("expected locale %q, got %v", want, Languages())
		}
	}
}

func TestT_FormattingAndFallback(t *testing.T) {
	Init("en")
	if got := T("migrate.done", "sqlite"); got != "Migrations applied for sqlite." {
		t.Fatalf("unexpected translation: %q", got)
	}
	if got := T("no.such.message"); got != "no.such.message" {
		t.Fatalf("unknown ids fall back to the id, got %q", got)
	}

	SetLang("de")
	defer SetLang("en")
	if got := T("resolve.cancelled"); got != "Abgebrochen." {
		t.Fatalf("expected German text, got %q", got)
	}
}

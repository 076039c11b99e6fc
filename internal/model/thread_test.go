package model

import "testing"

func TestThreadIDSymmetric(t *testing.T) {
	a := ThreadID("mohit@mohitpatel.life", "guest@example.com")
	b := ThreadID("guest@example.com", "mohit@mohitpatel.life")
	if a != b {
		t.Fatalf("ThreadID не симметричен: %q != %q", a, b)
	}
	if a != "guest@example.com__mohit@mohitpatel.life" {
		t.Fatalf("неожиданный ключ треда: %q", a)
	}
}

func TestParseThreadID(t *testing.T) {
	tests := []struct {
		id   string
		a, b string
		ok   bool
	}{
		{"a@x.com__b@y.com", "a@x.com", "b@y.com", true},
		{"a@x.com", "", "", false},
		{"__b@y.com", "", "", false},
		{"a@x.com__", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		a, b, ok := ParseThreadID(tt.id)
		if ok != tt.ok || a != tt.a || b != tt.b {
			t.Errorf("ParseThreadID(%q) = (%q, %q, %v), ожидалось (%q, %q, %v)", tt.id, a, b, ok, tt.a, tt.b, tt.ok)
		}
	}
}

func TestParseThreadIDRoundTrip(t *testing.T) {
	id := ThreadID("z@last.com", "a@first.com")
	a, b, ok := ParseThreadID(id)
	if !ok {
		t.Fatalf("ParseThreadID(%q) не разобрал собственный ключ", id)
	}
	if a != "a@first.com" || b != "z@last.com" {
		t.Fatalf("участники не в отсортированном порядке: %q, %q", a, b)
	}
}

func TestThreadCounterpart(t *testing.T) {
	th := Thread{ID: "a@x.com__b@y.com", ParticipantA: "a@x.com", ParticipantB: "b@y.com"}
	if got := th.Counterpart("a@x.com"); got != "b@y.com" {
		t.Errorf("Counterpart(a) = %q", got)
	}
	if got := th.Counterpart("b@y.com"); got != "a@x.com" {
		t.Errorf("Counterpart(b) = %q", got)
	}
	if got := th.Counterpart("stranger@z.com"); got != "" {
		t.Errorf("Counterpart(не участник) = %q, ожидалась пустая строка", got)
	}
	if th.Contains("stranger@z.com") {
		t.Error("Contains(не участник) = true")
	}
}

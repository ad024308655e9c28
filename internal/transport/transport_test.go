package transport

import "testing"

func TestUserDestination(t *testing.T) {
	t.Parallel()

	if got := UserDestination("972501234567"); got != "972501234567@s.whatsapp.net" {
		t.Fatalf("UserDestination() = %q", got)
	}
}

func TestIsGroupDestination(t *testing.T) {
	t.Parallel()

	if !IsGroupDestination("123456789-987654@g.us") {
		t.Fatalf("expected group destination")
	}
	if IsGroupDestination("972501234567@s.whatsapp.net") {
		t.Fatalf("expected direct destination")
	}
}

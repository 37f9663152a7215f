package adapter

import (
	"strings"
	"testing"
)

func TestHooks_TriggerOrder(t *testing.T) {
	h := NewHooks()
	h.Before("find", "a", func(s string) string { return s + "a" })
	h.Before(EventAll, "b", func(s string) string { return s + "b" })
	h.Before("create", "c", func(s string) string { return s + "c" })
	h.Before("find", "d", func(s string) string { return s + "d" })

	if got := h.Trigger("find", "x"); got != "xabd" {
		t.Errorf("find = %q, want xabd", got)
	}
	if got := h.Trigger("create", "x"); got != "xbc" {
		t.Errorf("create = %q, want xbc", got)
	}
}

func TestHooks_ReplaceKeepsPosition(t *testing.T) {
	h := NewHooks()
	h.Before("e", "first", func(s string) string { return s + "1" })
	h.Before("e", "second", func(s string) string { return s + "2" })
	h.Before("e", "first", func(s string) string { return s + "X" })

	if got := h.Trigger("e", ""); got != "X2" {
		t.Errorf("got %q, want X2", got)
	}
	h.Before("e", "first", nil)
	if got := h.Trigger("e", ""); got != "2" {
		t.Errorf("after removal got %q, want 2", got)
	}
	if h.Len() != 1 {
		t.Errorf("len = %d, want 1", h.Len())
	}
}

func TestMetadata(t *testing.T) {
	h := NewHooks()
	m := &Metadata{}
	SetMetadata(h, m, "request", "abc")
	SetMetadata(h, m, "user", "u*/1")
	SetMetadata(h, m, "request", "def")

	got := h.Trigger("find", "SELECT 1")
	want := "/* request: def */\n/* user: u1 */\nSELECT 1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if m.Get()["user"] != "u*/1" {
		t.Errorf("metadata = %v", m.Get())
	}

	ResetMetadata(h, m)
	if got := h.Trigger("find", "SELECT 1"); strings.Contains(got, "/*") {
		t.Errorf("expected no comment after reset, got %q", got)
	}
	if len(m.Get()) != 0 {
		t.Error("expected empty metadata")
	}
}

package kube

import (
	"testing"
)

func TestTerminalSizeQueue_SetAndNext(t *testing.T) {
	q := NewTerminalSizeQueue()

	q.Set(80, 24)
	size := q.Next()
	if size == nil {
		t.Fatal("expected non-nil size")
	}
	if size.Width != 80 || size.Height != 24 {
		t.Errorf("got %dx%d, want 80x24", size.Width, size.Height)
	}
}

func TestTerminalSizeQueue_OverflowDropsOldest(t *testing.T) {
	q := NewTerminalSizeQueue()

	// Fill the buffer (capacity 4).
	for i := uint16(0); i < 4; i++ {
		q.Set(i, i)
	}

	// Push one more, which should drop the oldest (0x0).
	q.Set(99, 99)

	size := q.Next()
	if size == nil {
		t.Fatal("expected non-nil size")
	}
	if size.Width != 1 || size.Height != 1 {
		t.Errorf("got %dx%d, want 1x1", size.Width, size.Height)
	}
}

func TestTerminalSizeQueue_Close(t *testing.T) {
	q := NewTerminalSizeQueue()

	q.Close()

	if size := q.Next(); size != nil {
		t.Errorf("expected nil after close, got %v", size)
	}

	// Double close should not panic.
	q.Close()
}

func TestTerminalSizeQueue_SetAfterClose(t *testing.T) {
	q := NewTerminalSizeQueue()
	q.Close()

	// Should not panic.
	q.Set(80, 24)
}

func TestUserNamespace(t *testing.T) {
	if got, want := UserNamespace("alice"), "whistler-user-alice"; got != want {
		t.Errorf("UserNamespace = %q, want %q", got, want)
	}
	if got, want := UserClaimName("alice"), "whistler-data-alice"; got != want {
		t.Errorf("UserClaimName = %q, want %q", got, want)
	}
}

func TestSystemNamespaceEnvOverride(t *testing.T) {
	t.Setenv("POD_NAMESPACE", "whistler-system")
	if got, want := SystemNamespace(), "whistler-system"; got != want {
		t.Errorf("SystemNamespace = %q, want %q", got, want)
	}
}

package systemd

import (
	"context"
	"testing"
	"time"
)

func TestNoopOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	if sent, err := Ready(); sent || err != nil {
		t.Fatalf("Ready() = %v, %v", sent, err)
	}
	if sent, err := Status("%d works", 3); sent || err != nil {
		t.Fatalf("Status() = %v, %v", sent, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := Watchdog(ctx); err != nil {
		t.Fatalf("Watchdog() = %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("Watchdog blocked without WATCHDOG_USEC")
	}
}

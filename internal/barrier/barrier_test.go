package barrier

import (
	"testing"
	"time"
)

func TestSignalThenWaitUnblocks(t *testing.T) {
	b, err := Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		done <- b.Wait()
	}()

	if err := b.Signal(); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not unblock after Signal()")
	}
}

func TestWaitBlocksUntilSignal(t *testing.T) {
	b, err := Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer b.Close()

	unblocked := make(chan struct{})
	go func() {
		_ = b.Wait()
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("Wait() returned before Signal() was called")
	case <-time.After(100 * time.Millisecond):
	}

	if err := b.Signal(); err != nil {
		t.Fatalf("Signal() error = %v", err)
	}

	select {
	case <-unblocked:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() never unblocked")
	}
}

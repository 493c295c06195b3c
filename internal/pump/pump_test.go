package pump

import (
	"encoding/binary"
	"io"
	"os"
	"testing"
	"time"
)

func TestRunDeliversExitCode(t *testing.T) {
	srcR, srcW, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	dstR, dstW, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	sentR, sentW, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}

	if _, err := srcW.Write([]byte("hello")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	srcW.Close()

	var status [4]byte
	binary.LittleEndian.PutUint32(status[:], 7)
	if _, err := sentW.Write(status[:]); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	sentW.Close()

	resultCh := make(chan ExitOutcome, 1)
	go func() {
		resultCh <- Run([]Pair{{Name: "stdout", Src: srcR, Dst: dstW}}, sentR)
	}()

	var result ExitOutcome
	select {
	case result = <-resultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}

	if result.Signaled {
		t.Fatalf("Run() outcome signaled = true, want false")
	}
	if result.Code != 7 {
		t.Fatalf("Run() outcome code = %d, want 7", result.Code)
	}

	dstW.Close()
	got, err := io.ReadAll(dstR)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("piped data = %q, want %q", got, "hello")
	}
}

func TestRunTreatsSentinelEOFAsSignaled(t *testing.T) {
	sentR, sentW, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe() error = %v", err)
	}
	sentW.Close()

	result := Run(nil, sentR)
	if !result.Signaled {
		t.Fatalf("Run() outcome signaled = false, want true")
	}
}

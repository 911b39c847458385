package signal

import "testing"

func TestInterruptRequested(t *testing.T) {
	interrupted := make(chan struct{})
	if InterruptRequested(interrupted) {
		t.Fatalf("an open channel reported an interrupt")
	}
	close(interrupted)
	if !InterruptRequested(interrupted) {
		t.Fatalf("a closed channel did not report an interrupt")
	}
}

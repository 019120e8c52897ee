package metrics

import "testing"

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register() // must not panic on double registration

	IncSyncAttempt("success")
	SetQueueDepth("pending", 3)
	IncConflict("warning")
	IncTransition("shooting_completed")
}

package database

import (
	"errors"
	"testing"
)

// TestRecloseOutcome tests the idempotence decision for closing an
// already-closed trade
func TestRecloseOutcome(t *testing.T) {
	stop := ReasonStopLoss
	trailing := ReasonTrailingStop

	if err := recloseOutcome(1, &stop, ReasonStopLoss); err != nil {
		t.Errorf("Re-close with the same reason must be a no-op, got %v", err)
	}

	err := recloseOutcome(1, &stop, ReasonTakeProfit)
	if !errors.Is(err, ErrCloseReasonConflict) {
		t.Errorf("Expected ErrCloseReasonConflict for a different reason, got %v", err)
	}

	err = recloseOutcome(1, nil, ReasonTimeLimit)
	if !errors.Is(err, ErrCloseReasonConflict) {
		t.Errorf("Expected ErrCloseReasonConflict for a missing stored reason, got %v", err)
	}

	if err := recloseOutcome(1, &trailing, ReasonTrailingStop); err != nil {
		t.Errorf("Re-close with the same trailing reason must be a no-op, got %v", err)
	}
}

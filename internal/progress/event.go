// Package progress defines the event structures emitted by the batch runner.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart     Stage = "BATCH_START"
	StageBatchDone      Stage = "BATCH_DONE"
	StageBatchCancelled Stage = "BATCH_CANCELLED"
	StageBatchError     Stage = "BATCH_ERROR"
	StageItemStart      Stage = "ITEM_START"
	StageItemDone       Stage = "ITEM_DONE"
	StageItemError      Stage = "ITEM_ERROR"
)

// Terminal reports whether the stage ends a batch.
func (s Stage) Terminal() bool {
	switch s {
	case StageBatchDone, StageBatchCancelled, StageBatchError:
		return true
	default:
		return false
	}
}

// Event captures a single step of batch progress.
type Event struct {
	// BatchID uniquely identifies a batch using the 16-byte UUID form.
	BatchID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// RollNumber scopes item events to one canonical roll number.
	RollNumber string
	// Outcome is the extraction outcome for ITEM_DONE and ITEM_ERROR.
	Outcome string
	// Appeals is the number of appeal rows extracted for ITEM_DONE.
	Appeals int
	// Dur captures item or batch wall time.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == [16]byte{} {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone, StageBatchCancelled, StageBatchError:
	case StageItemStart:
		if e.RollNumber == "" {
			return errors.New("item start requires roll number")
		}
	case StageItemDone, StageItemError:
		if e.RollNumber == "" {
			return errors.New("item completion requires roll number")
		}
		if e.Outcome == "" {
			return errors.New("item completion requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// BatchUUID converts the binary batch ID to uuid.UUID for repositories.
func (e Event) BatchUUID() uuid.UUID {
	return uuid.UUID(e.BatchID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

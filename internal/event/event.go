package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	CopyStarted Type = iota + 1
	BatchWritten
	RangeChecked
	SyncStarted
	SyncComplete
	VerifyStarted
	VerifyOK
	VerifyFailed
	CopyComplete
	CopyFailed
)

var typeNames = [...]string{
	CopyStarted:   "CopyStarted",
	BatchWritten:  "BatchWritten",
	RangeChecked:  "RangeChecked",
	SyncStarted:   "SyncStarted",
	SyncComplete:  "SyncComplete",
	VerifyStarted: "VerifyStarted",
	VerifyOK:      "VerifyOK",
	VerifyFailed:  "VerifyFailed",
	CopyComplete:  "CopyComplete",
	CopyFailed:    "CopyFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the copy engine.
type Event struct {
	Type      Type
	Timestamp time.Time
	First     int64 // first block of the batch or range
	Last      int64 // last block of the batch or range
	Bytes     int64 // payload size for BatchWritten
	Error     error
}

package models

// ImportStatus is the outcome tag of a single match import.
type ImportStatus string

const (
	StatusExists   ImportStatus = "exists"
	StatusAdded    ImportStatus = "added"
	StatusSkipped  ImportStatus = "skipped"
	StatusNoData   ImportStatus = "no-data"
	StatusNoSource ImportStatus = "no-source"
	StatusError    ImportStatus = "error"
)

// ImportResult is the transient outcome of importing one match id.
// Match is set for exists and added; Err for error and no-source.
type ImportResult struct {
	ID     MatchID
	Status ImportStatus
	Match  *Match
	Err    error
}

// Failed reports whether the result counts toward a batch's error ratio.
func (r ImportResult) Failed() bool {
	return r.Status == StatusError
}

// Cursor is the persisted import position.
type Cursor struct {
	// Timestamp is unix seconds of the last imported position.
	Timestamp int64
	MatchID   MatchID
	// Offset pages past a burst of matches sharing one timestamp.
	Offset int
	// Host tags which process wrote the cursor.
	Host string
}

package models

// ProgressEvent is a human-readable status update pushed while a request runs
// Only Update crosses the wire
type ProgressEvent struct {
	Step   int      `json:"-"`
	Tool   ToolName `json:"-"`
	Update string   `json:"update"`
}

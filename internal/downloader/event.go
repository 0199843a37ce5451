package downloader

// Event is a progress update or the terminal outcome of one transfer.
type Event struct {
	Type     EventType
	Progress *Progress
	// TempPath is set on Complete: the finished payload, owned by the
	// receiver from then on.
	TempPath string
	Err      error
}

// EventType defines the set of events a transfer may emit.
type EventType string

const (
	EventProgress EventType = "Progress"
	EventComplete EventType = "Complete"
	EventFailed   EventType = "Failed"
)

// Progress carries byte counts for an in-flight transfer. Total is 0 when
// the remote did not announce a length.
type Progress struct {
	Completed int64
	Total     int64
}

// Fraction returns Completed/Total, or false when Total is unknown.
func (p Progress) Fraction() (float64, bool) {
	if p.Total <= 0 {
		return 0, false
	}
	f := float64(p.Completed) / float64(p.Total)
	if f > 1 {
		f = 1
	}
	return f, true
}

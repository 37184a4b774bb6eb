package plan

// Decision is the human's answer to a proposed plan
type Decision string

const (
	Approved        Decision = "approved"
	ApprovedCompact Decision = "approved_compact"
	Denied          Decision = "denied"
)

// Allows reports whether the decision lets the assistant proceed
func (d Decision) Allows() bool {
	return d == Approved || d == ApprovedCompact
}

// Compacts reports whether a compaction follow-up should be queued
func (d Decision) Compacts() bool {
	return d == ApprovedCompact
}

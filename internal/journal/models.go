package journal

import "time"

// Submission records one upload attempt and how it settled.
type Submission struct {
	ID            int64
	SessionID     string
	ItemID        string
	Endpoint      string
	Replacement   bool
	Outcome       string
	Recovery      string
	Message       string
	ArtifactBytes int64
	CreatedAt     time.Time
}

// PollRecord records how a result poll task ended.
type PollRecord struct {
	ID        int64
	SessionID string
	ItemID    string
	Status    string
	Attempts  int
	ResultURL string
	Message   string
	CreatedAt time.Time
}

// Filter narrows history queries.
type Filter struct {
	SessionID string
	Limit     int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

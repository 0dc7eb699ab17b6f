package practice

// Item is one prompt within a practice session.
type Item struct {
	ID           string `json:"id" validate:"required"`
	SessionID    string `json:"session_id,omitempty"`
	Index        int    `json:"index" validate:"gte=0"`
	Prompt       string `json:"prompt,omitempty"`
	IsCompleted  bool   `json:"is_completed"`
	RecordingURL string `json:"recording_url,omitempty"`
	ResultURL    string `json:"result_url,omitempty"`
	MediaID      string `json:"media_id,omitempty"`
}

// Session is the server snapshot of a practice session.
type Session struct {
	ID             string `json:"id" validate:"required"`
	Title          string `json:"title,omitempty"`
	TotalItems     int    `json:"total_items" validate:"gte=0"`
	CompletedItems int    `json:"completed_items" validate:"gte=0,ltefield=TotalItems"`
	IsCompleted    bool   `json:"is_completed"`
	Items          []Item `json:"items,omitempty" validate:"dive"`
}

// AllSubmitted reports whether every item has a recording.
func (s Session) AllSubmitted() bool {
	return s.TotalItems > 0 && s.CompletedItems == s.TotalItems
}

// FindItem returns the item with id from the snapshot.
func (s Session) FindItem(id string) (Item, bool) {
	for _, item := range s.Items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// UploadResponse is returned by create and replace.
type UploadResponse struct {
	Session   Session `json:"session"`
	Item      Item    `json:"item"`
	Items     []Item  `json:"items,omitempty" validate:"dive"`
	HasNext   bool    `json:"has_next"`
	NextIndex int     `json:"next_index" validate:"gte=0"`
}

// CompleteResponse is returned by session completion.
type CompleteResponse struct {
	Session  *Session `json:"session,omitempty"`
	Redirect string   `json:"redirect,omitempty"`
}

// ResultStatus is the derived-artifact processing state.
type ResultStatus string

const (
	ResultProcessing ResultStatus = "processing"
	ResultReady      ResultStatus = "ready"
)

// Result is the derived-artifact read response.
type Result struct {
	Status ResultStatus `json:"status" validate:"oneof=processing ready"`
	URL    string       `json:"url,omitempty" validate:"required_if=Status ready"`
}

// Upload names the artifact to send.
type Upload struct {
	Path     string
	FileName string
	MimeType string
}

package domain

// Match is a single hit returned by a vector index query.
type Match struct {
	ID       string         `json:"id"`
	Score    *float64       `json:"score,omitempty"` // nil when the index did not report one
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Text returns metadata.text when it is present and is a string.
func (m Match) Text() (string, bool) {
	if m.Metadata == nil {
		return "", false
	}
	s, ok := m.Metadata["text"].(string)
	return s, ok
}

// Title returns metadata.title, or "" when missing.
func (m Match) Title() string {
	s, _ := m.Metadata["title"].(string)
	return s
}

// Document is the write shape for upserting vectors into an index.
type Document struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

// Article is a support document fetched from a help center or local file.
type Article struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url,omitempty"`
	Source string `json:"source"`
}

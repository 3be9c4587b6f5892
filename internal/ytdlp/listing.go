package ytdlp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Entry is one item of a collection listing.
type Entry struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration,omitempty"`
}

// Listing is the parsed result of a flat playlist fetch.
type Listing struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Entries []Entry `json:"entries"`
}

// ParseListing decodes yt-dlp flat playlist JSON. Entries without an id are
// dropped; entry URLs fall back to webpage_url when url is absent.
func ParseListing(data []byte) (Listing, error) {
	var raw struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Entries []struct {
			ID         string  `json:"id"`
			URL        string  `json:"url"`
			WebpageURL string  `json:"webpage_url"`
			Title      string  `json:"title"`
			Duration   float64 `json:"duration"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Listing{}, fmt.Errorf("decode flat playlist JSON: %w", err)
	}

	listing := Listing{ID: raw.ID, Title: raw.Title}
	for _, e := range raw.Entries {
		if strings.TrimSpace(e.ID) == "" {
			continue
		}
		url := e.URL
		if strings.TrimSpace(url) == "" {
			url = e.WebpageURL
		}
		listing.Entries = append(listing.Entries, Entry{
			ID:       e.ID,
			URL:      url,
			Title:    e.Title,
			Duration: e.Duration,
		})
	}
	return listing, nil
}

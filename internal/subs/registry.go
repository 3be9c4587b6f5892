// Package subs is the subscription registry: the persisted list of tracked
// collections, uploaders, and keyword searches the sync command curates.
package subs

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"vod-curator/internal/statestore"
)

const (
	DefaultRegistryPath = "config/subscriptions.json"
	registrySchema      = 1

	TypeCollection = "collection"
	TypeUploader   = "uploader"
	TypeKeyword    = "keyword"
)

var ErrNoSubscriptions = errors.New("no subscriptions configured")

type Subscription struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Type         string `json:"type,omitempty"`
	RequiresAuth bool   `json:"requires_auth,omitempty"`
	Active       *bool  `json:"active,omitempty"`
	Priority     int    `json:"priority,omitempty"`
	OutputDir    string `json:"output_dir,omitempty"`
	Quality      string `json:"quality,omitempty"`
}

func (s Subscription) IsActive() bool {
	return s.Active == nil || *s.Active
}

type Registry struct {
	SchemaVersion int            `json:"schema_version"`
	UpdatedAt     string         `json:"updated_at"`
	Subscriptions []Subscription `json:"subscriptions"`
}

func normalizePath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return DefaultRegistryPath
	}
	return p
}

// Ensure loads the registry, creating an empty one when the file does not
// exist yet. The second return reports whether a new file was created.
func Ensure(path string) (Registry, bool, error) {
	p := normalizePath(path)
	reg, err := Load(p)
	if err == nil {
		return reg, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Registry{}, false, err
	}
	reg = Registry{
		SchemaVersion: registrySchema,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
		Subscriptions: []Subscription{},
	}
	if err := Save(p, reg); err != nil {
		return Registry{}, false, err
	}
	return reg, true, nil
}

func Load(path string) (Registry, error) {
	var reg Registry
	if err := statestore.ReadJSON(normalizePath(path), &reg); err != nil {
		return Registry{}, err
	}
	if reg.Subscriptions == nil {
		reg.Subscriptions = []Subscription{}
	}
	return reg, nil
}

func Save(path string, reg Registry) error {
	return statestore.WriteJSON(normalizePath(path), reg)
}

type AddOptions struct {
	RegistryPath string
	Name         string
	URL          string
	Type         string
	RequiresAuth bool
	Priority     int
	OutputDir    string
	Quality      string
	Replace      bool
}

type AddResult struct {
	Subscription Subscription
	Created      bool
}

func Add(opts AddOptions) (AddResult, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return AddResult{}, fmt.Errorf("subscription URL is required")
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = suggestName(url)
	}
	if name == "" {
		return AddResult{}, fmt.Errorf("subscription name is required")
	}
	subType := strings.ToLower(strings.TrimSpace(opts.Type))
	switch subType {
	case "", TypeCollection:
		subType = TypeCollection
	case TypeUploader, TypeKeyword:
	default:
		return AddResult{}, fmt.Errorf("subscription type must be one of: collection, uploader, keyword")
	}

	reg, _, err := Ensure(opts.RegistryPath)
	if err != nil {
		return AddResult{}, err
	}
	for _, s := range reg.Subscriptions {
		if s.URL == url && !strings.EqualFold(s.Name, name) {
			return AddResult{}, fmt.Errorf("source already tracked by subscription %q", s.Name)
		}
	}

	sub := Subscription{
		Name:         name,
		URL:          url,
		Type:         subType,
		RequiresAuth: opts.RequiresAuth,
		Priority:     opts.Priority,
		OutputDir:    strings.TrimSpace(opts.OutputDir),
		Quality:      strings.TrimSpace(opts.Quality),
	}

	created := true
	replaced := false
	for i := range reg.Subscriptions {
		if strings.EqualFold(reg.Subscriptions[i].Name, name) {
			if !opts.Replace {
				return AddResult{}, fmt.Errorf("subscription %q already exists (use --replace)", name)
			}
			reg.Subscriptions[i] = sub
			created = false
			replaced = true
			break
		}
	}
	if !replaced {
		reg.Subscriptions = append(reg.Subscriptions, sub)
	}
	sort.Slice(reg.Subscriptions, func(i, j int) bool {
		return reg.Subscriptions[i].Name < reg.Subscriptions[j].Name
	})
	reg.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := Save(opts.RegistryPath, reg); err != nil {
		return AddResult{}, err
	}
	return AddResult{Subscription: sub, Created: created}, nil
}

func Remove(registryPath, name string) (Subscription, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Subscription{}, fmt.Errorf("subscription name is required")
	}
	reg, _, err := Ensure(registryPath)
	if err != nil {
		return Subscription{}, err
	}
	for i := range reg.Subscriptions {
		if strings.EqualFold(reg.Subscriptions[i].Name, name) {
			removed := reg.Subscriptions[i]
			reg.Subscriptions = append(reg.Subscriptions[:i], reg.Subscriptions[i+1:]...)
			reg.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
			if err := Save(registryPath, reg); err != nil {
				return Subscription{}, err
			}
			return removed, nil
		}
	}
	return Subscription{}, fmt.Errorf("subscription %q not found", name)
}

// Select returns the subscriptions to sync: all active ones, or the named
// subset when names is non-empty.
func Select(reg Registry, names []string, activeOnly bool) ([]Subscription, error) {
	if len(reg.Subscriptions) == 0 {
		return nil, ErrNoSubscriptions
	}
	if len(names) == 0 {
		out := make([]Subscription, 0, len(reg.Subscriptions))
		for _, s := range reg.Subscriptions {
			if activeOnly && !s.IsActive() {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	}
	var out []Subscription
	for _, name := range names {
		found := false
		for _, s := range reg.Subscriptions {
			if strings.EqualFold(s.Name, strings.TrimSpace(name)) {
				out = append(out, s)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("subscription %q not found", name)
		}
	}
	return out, nil
}

// suggestName derives a readable default name from a source URL.
func suggestName(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if i := strings.LastIndexAny(trimmed, "/="); i >= 0 && i+1 < len(trimmed) {
		trimmed = trimmed[i+1:]
	}
	trimmed = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, trimmed)
	return strings.Trim(trimmed, "-")
}

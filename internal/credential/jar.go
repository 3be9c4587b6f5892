// Package credential manages the pool of cookie jars used for authenticated
// upstream access. A jar is one Netscape cookies.txt file in the workspace
// cookies directory; jars rotate least-recently-used and are banned after
// repeated auth failures.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vod-curator/internal/model"
	"vod-curator/internal/statestore"
)

const (
	stateFileName           = "state.json"
	DefaultFailureThreshold = 3
)

type jarRecord struct {
	Failures int    `json:"failures,omitempty"`
	Banned   bool   `json:"banned,omitempty"`
	BanReason string `json:"ban_reason,omitempty"`
	LastUsed string `json:"last_used,omitempty"`
}

type poolState struct {
	SchemaVersion int                  `json:"schema_version"`
	UpdatedAt     string               `json:"updated_at"`
	Jars          map[string]jarRecord `json:"jars"`
}

// Provider serves credentials to the executor and accepts invalidation
// signals from the scheduler's failure classifier. Safe for concurrent use.
type Provider struct {
	dir       string
	threshold int

	mu    sync.Mutex
	state poolState
	now   func() time.Time
}

// Open scans dir for *.txt cookie jars and loads pool state. A missing or
// empty directory is fine: the provider then only ever serves anonymous.
func Open(dir string) (*Provider, error) {
	p := &Provider{
		dir:       dir,
		threshold: DefaultFailureThreshold,
		state:     poolState{SchemaVersion: 1, Jars: make(map[string]jarRecord)},
		now:       time.Now,
	}
	if err := statestore.ReadJSON(filepath.Join(dir, stateFileName), &p.state); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load credential pool state: %w", err)
		}
	}
	if p.state.Jars == nil {
		p.state.Jars = make(map[string]jarRecord)
	}
	return p, nil
}

// SetFailureThreshold overrides the ban threshold (minimum 1).
func (p *Provider) SetFailureThreshold(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	p.threshold = n
	p.mu.Unlock()
}

func (p *Provider) jarNames() []string {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// Current returns the least-recently-used non-banned jar for the
// authenticated channel, or ok=false for anonymous access (always the case
// on the open channel).
func (p *Provider) Current(channel model.Channel) (string, bool) {
	if channel != model.ChannelAuthenticated {
		return "", false
	}
	names := p.jarNames()
	if len(names) == 0 {
		return "", false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	best := ""
	bestUsed := ""
	for _, name := range names {
		rec := p.state.Jars[name]
		if rec.Banned {
			continue
		}
		if best == "" || rec.LastUsed < bestUsed {
			best = name
			bestUsed = rec.LastUsed
		}
	}
	if best == "" {
		return "", false
	}
	rec := p.state.Jars[best]
	rec.LastUsed = p.now().UTC().Format(time.RFC3339Nano)
	p.state.Jars[best] = rec
	return best, true
}

// Invalidate records an auth failure against a jar and bans it once the
// failure threshold is reached.
func (p *Provider) Invalidate(handle string) {
	if strings.TrimSpace(handle) == "" {
		return
	}
	p.mu.Lock()
	rec := p.state.Jars[handle]
	rec.Failures++
	if !rec.Banned && rec.Failures >= p.threshold {
		rec.Banned = true
		rec.BanReason = fmt.Sprintf("auth failure threshold reached (%d)", p.threshold)
	}
	p.state.Jars[handle] = rec
	p.mu.Unlock()
	_ = p.save()
}

// CookiesPath resolves a jar handle to its cookies.txt path.
func (p *Provider) CookiesPath(handle string) string {
	if strings.TrimSpace(handle) == "" {
		return ""
	}
	return filepath.Join(p.dir, handle)
}

// JarInfo is the operator-facing view of one jar.
type JarInfo struct {
	Name      string `json:"name"`
	Failures  int    `json:"failures"`
	Banned    bool   `json:"banned"`
	BanReason string `json:"ban_reason,omitempty"`
	LastUsed  string `json:"last_used,omitempty"`
}

func (p *Provider) Jars() []JarInfo {
	names := p.jarNames()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]JarInfo, 0, len(names))
	for _, name := range names {
		rec := p.state.Jars[name]
		out = append(out, JarInfo{
			Name:      name,
			Failures:  rec.Failures,
			Banned:    rec.Banned,
			BanReason: rec.BanReason,
			LastUsed:  rec.LastUsed,
		})
	}
	return out
}

func (p *Provider) save() error {
	p.mu.Lock()
	p.state.UpdatedAt = p.now().UTC().Format(time.RFC3339)
	snapshot := p.state
	jars := make(map[string]jarRecord, len(p.state.Jars))
	for k, v := range p.state.Jars {
		jars[k] = v
	}
	snapshot.Jars = jars
	p.mu.Unlock()
	return statestore.WriteJSON(filepath.Join(p.dir, stateFileName), snapshot)
}

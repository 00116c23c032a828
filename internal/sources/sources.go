package sources

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"secnews/internal/models"
)

// Defaults are the feeds used when no sources are configured.
var Defaults = []models.SourceDescriptor{
	{Name: "BleepingComputer", Endpoint: "https://www.bleepingcomputer.com/feed/", Enabled: true},
	{Name: "The Hacker News", Endpoint: "https://feeds.feedburner.com/TheHackersNews", Enabled: true},
	{Name: "Wiz Blog", Endpoint: "https://www.wiz.io/feed/rss.xml", Enabled: true},
	{Name: "StepSecurity", Endpoint: "https://www.stepsecurity.io/blog/rss.xml", Enabled: true},
	{Name: "ReversingLabs", Endpoint: "https://www.reversinglabs.com/blog/rss.xml", Enabled: true},
}

// Registry is the immutable set of configured sources, in configuration order.
type Registry struct {
	list   []models.SourceDescriptor
	byName map[string]int
}

// New validates descriptors and builds a registry. Names must be unique and
// endpoints must be absolute http(s) URLs.
func New(descs []models.SourceDescriptor) (*Registry, error) {
	if len(descs) == 0 {
		return nil, errors.New("sources: at least one source is required")
	}
	r := &Registry{
		list:   make([]models.SourceDescriptor, 0, len(descs)),
		byName: make(map[string]int, len(descs)),
	}
	for _, d := range descs {
		d.Name = strings.TrimSpace(d.Name)
		d.Endpoint = strings.TrimSpace(d.Endpoint)
		if d.Name == "" {
			return nil, fmt.Errorf("sources: missing name for %q", d.Endpoint)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("sources: duplicate name %q", d.Name)
		}
		u, err := url.Parse(d.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("sources: invalid feed url for %s: %q", d.Name, d.Endpoint)
		}
		r.byName[d.Name] = len(r.list)
		r.list = append(r.list, d)
	}
	return r, nil
}

// All returns a copy of every source.
func (r *Registry) All() []models.SourceDescriptor {
	out := make([]models.SourceDescriptor, len(r.list))
	copy(out, r.list)
	return out
}

// Enabled returns the enabled sources in registry order.
func (r *Registry) Enabled() []models.SourceDescriptor {
	out := make([]models.SourceDescriptor, 0, len(r.list))
	for _, d := range r.list {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Names returns source names in registry order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.list))
	for i, d := range r.list {
		out[i] = d.Name
	}
	return out
}

// Unknown returns the names that are not registered, preserving input order.
func (r *Registry) Unknown(names []string) []string {
	var out []string
	for _, n := range names {
		if _, ok := r.byName[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func (r *Registry) Len() int { return len(r.list) }

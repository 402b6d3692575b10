package source

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Family binds an Extractor to the domains it serves.
type Family struct {
	Name      string
	Domains   []string
	Extractor Extractor
	// Header carries per-site request headers (e.g. Accept-Language) added to the defaults.
	Header http.Header
}

// Registry is the capability table from normalized domain to Family.
// Adding a site means registering one more Family.
type Registry struct {
	mu       sync.RWMutex
	families []*Family
	byDomain map[string]*Family
}

func NewRegistry(families ...Family) (*Registry, error) {
	r := &Registry{byDomain: map[string]*Family{}}
	for _, f := range families {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(f Family) error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("source family has no name")
	}
	if f.Extractor == nil {
		return fmt.Errorf("source family %s has no extractor", f.Name)
	}
	if len(f.Domains) == 0 {
		return fmt.Errorf("source family %s has no domains", f.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fam := &f
	keys := make([]string, 0, len(f.Domains))
	for _, d := range f.Domains {
		key, err := domainKey(d)
		if err != nil {
			return fmt.Errorf("source family %s: %w", f.Name, err)
		}
		if other, ok := r.byDomain[key]; ok {
			return fmt.Errorf("domain %s claimed by both %s and %s", key, other.Name, f.Name)
		}
		keys = append(keys, key)
	}
	for _, k := range keys {
		r.byDomain[k] = fam
	}
	fam.Domains = keys
	r.families = append(r.families, fam)
	return nil
}

// Lookup selects the family for rawURL. Subdomains fall back to their parent
// ("m.sing-manga.com" matches "sing-manga.com"). No match is an
// *ExtractionError wrapping ErrUnsupportedSource.
func (r *Registry) Lookup(rawURL string) (*Family, error) {
	key, err := Domain(rawURL)
	if err != nil {
		return nil, extractErr("", rawURL, ErrUnsupportedSource, err.Error())
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for d := key; d != ""; {
		if f, ok := r.byDomain[d]; ok {
			return f, nil
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	return nil, extractErr("", rawURL, ErrUnsupportedSource, key)
}

// Families lists registered families in registration order.
func (r *Registry) Families() []Family {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Family, 0, len(r.families))
	for _, f := range r.families {
		out = append(out, *f)
	}
	return out
}

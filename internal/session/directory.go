package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/msnctl/internal/status"
)

// Contact is one directory entry.
type Contact struct {
	Account string            `json:"account"`
	Nick    string            `json:"nick"`
	Status  status.Status     `json:"-"`
	Message string            `json:"message"`
	Media   string            `json:"media"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

func (c Contact) clone() Contact {
	out := c
	if c.Attrs != nil {
		out.Attrs = make(map[string]string, len(c.Attrs))
		for k, v := range c.Attrs {
			out.Attrs[k] = v
		}
	}
	return out
}

// Directory stores contacts keyed by lower-cased account.
type Directory struct {
	mu    sync.RWMutex
	items map[string]*Contact
}

func NewDirectory() *Directory {
	return &Directory{
		items: make(map[string]*Contact),
	}
}

func normalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// Add inserts or replaces a contact. New contacts start offline.
func (d *Directory) Add(c Contact) {
	key := normalizeAccount(c.Account)
	if key == "" {
		return
	}
	c = c.clone()
	c.Account = key
	if c.Attrs == nil {
		c.Attrs = make(map[string]string)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[key] = &c
}

func (d *Directory) Remove(account string) bool {
	key := normalizeAccount(account)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[key]; !ok {
		return false
	}
	delete(d.items, key)
	return true
}

func (d *Directory) Get(account string) (Contact, bool) {
	key := normalizeAccount(account)
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.items[key]
	if !ok {
		return Contact{}, false
	}
	return c.clone(), true
}

// Update applies fn to a known contact; unknown accounts are left alone.
func (d *Directory) Update(account string, fn func(*Contact)) bool {
	key := normalizeAccount(account)
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.items[key]
	if !ok {
		return false
	}
	fn(c)
	if c.Attrs == nil {
		c.Attrs = make(map[string]string)
	}
	c.Account = key
	return true
}

func (d *Directory) List() []Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Contact, 0, len(d.items))
	for _, c := range d.items {
		out = append(out, c.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Account < out[j].Account
	})
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.items)
}

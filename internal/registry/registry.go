package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrBotExists    = errors.New("registry: bot already exists")
	ErrBotNotFound  = errors.New("registry: bot not found")
	ErrInvalidName  = errors.New("registry: invalid bot name")
	ErrReservedName = errors.New("registry: reserved bot name")
	ErrCorruptFile  = errors.New("registry: corrupt registry file")
)

const MaxNameLength = 64

// Entry is one persisted registry record.
type Entry struct {
	Name string
	Path string
}

// Registry persists bots to a single JSON file.
type Registry struct {
	path string
	mu   sync.Mutex
}

// Open ensures the registry file exists (seeded with {}) and returns a handle.
func Open(path string) (*Registry, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, fmt.Errorf("registry: path required")
	}
	if dir := filepath.Dir(p); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	r := &Registry{path: p}
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		if err := r.Save(map[string]string{}); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the backing file path.
func (r *Registry) Path() string {
	return r.path
}

// Load reads the whole registry file.
func (r *Registry) Load() (map[string]string, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if len(strings.TrimSpace(string(data))) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptFile, r.path, err)
	}
	// a literal null decodes to a nil map
	if out == nil {
		out = make(map[string]string)
	}
	return out, nil
}

// Save rewrites the whole registry file via a temp file and rename.
func (r *Registry) Save(bots map[string]string) error {
	if bots == nil {
		bots = map[string]string{}
	}
	data, err := json.MarshalIndent(bots, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Get returns the directory registered for name.
func (r *Registry) Get(name string) (string, bool, error) {
	bots, err := r.Load()
	if err != nil {
		return "", false, err
	}
	p, ok := bots[name]
	return p, ok, nil
}

// Entries returns all records ordered by name.
func (r *Registry) Entries() ([]Entry, error) {
	bots, err := r.Load()
	if err != nil {
		return nil, err
	}
	list := make([]Entry, 0, len(bots))
	for name, p := range bots {
		list = append(list, Entry{Name: name, Path: p})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list, nil
}

// Names returns registered bot names in order.
func (r *Registry) Names() ([]string, error) {
	entries, err := r.Entries()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// Add registers a new bot. Existing names are rejected.
func (r *Registry) Add(name, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bots, err := r.Load()
	if err != nil {
		return err
	}
	if _, ok := bots[name]; ok {
		return fmt.Errorf("%w: %s", ErrBotExists, name)
	}
	bots[name] = path
	return r.Save(bots)
}

// Remove deletes a bot record and returns its path.
func (r *Registry) Remove(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bots, err := r.Load()
	if err != nil {
		return "", err
	}
	p, ok := bots[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBotNotFound, name)
	}
	delete(bots, name)
	if err := r.Save(bots); err != nil {
		return "", err
	}
	return p, nil
}

// ValidateName checks that name is safe to use as a directory name.
func ValidateName(name string, reserved ...string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	}
	if !isValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range reserved {
		if strings.EqualFold(name, r) {
			return fmt.Errorf("%w: %q", ErrReservedName, name)
		}
	}
	return nil
}

func isValidName(name string) bool {
	lastSep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		isAlpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isAlpha || isDigit || isSep) {
			return false
		}
		if i == 0 && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}

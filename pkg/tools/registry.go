package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// TableVersion is the newest classification table format this build reads
const TableVersion = 1

// Table maps normalized tool names to their classification. It is the one
// place tool names are matched; every other package asks the table.
type Table struct {
	version  int
	entries  map[string]Entry
	prefixes []PrefixRule
	mu       sync.RWMutex
}

// NewTable creates an empty table
func NewTable() *Table {
	return &Table{
		version: TableVersion,
		entries: make(map[string]Entry),
	}
}

// Normalize lower-cases and trims a tool name
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds an alias. Registering the same alias twice is an error.
func (t *Table) Register(alias string, entry Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Normalize(alias)
	if err := validateEntry(key, entry); err != nil {
		return err
	}
	if _, exists := t.entries[key]; exists {
		return TableError{Alias: key, Message: "already registered"}
	}

	t.entries[key] = entry
	return nil
}

// Set adds or replaces an alias
func (t *Table) Set(alias string, entry Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := Normalize(alias)
	if err := validateEntry(key, entry); err != nil {
		return err
	}
	t.entries[key] = entry
	return nil
}

// AddPrefix appends a prefix rule. Rules are tried longest prefix first.
func (t *Table) AddPrefix(rule PrefixRule) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rule.Prefix = Normalize(rule.Prefix)
	if rule.Prefix == "" {
		return TableError{Message: "prefix rule with empty prefix"}
	}
	if !rule.Category.Valid() {
		return TableError{Alias: rule.Prefix + "*", Message: fmt.Sprintf("unknown category %q", rule.Category)}
	}

	for i, existing := range t.prefixes {
		if existing.Prefix == rule.Prefix {
			t.prefixes[i] = rule
			return nil
		}
	}
	t.prefixes = append(t.prefixes, rule)
	sort.SliceStable(t.prefixes, func(i, j int) bool {
		return len(t.prefixes[i].Prefix) > len(t.prefixes[j].Prefix)
	})
	return nil
}

func validateEntry(key string, entry Entry) error {
	if key == "" {
		return TableError{Message: "alias cannot be empty"}
	}
	if !entry.Category.Valid() {
		return TableError{Alias: key, Message: fmt.Sprintf("unknown category %q", entry.Category)}
	}
	if !entry.Kind.Valid() {
		return TableError{Alias: key, Message: fmt.Sprintf("unknown kind %q", entry.Kind)}
	}
	return nil
}

// Lookup returns the entry registered for an alias
func (t *Table) Lookup(alias string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[Normalize(alias)]
	return entry, ok
}

// Classify resolves a tool name. It never fails: unknown names are CategoryOther.
func (t *Table) Classify(name string) Info {
	key := Normalize(name)
	info := Info{
		Name:        name,
		Normalized:  key,
		Category:    CategoryOther,
		DisplayName: strings.TrimSpace(name),
	}
	if info.DisplayName == "" {
		info.DisplayName = "Tool"
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if entry, ok := t.entries[key]; ok {
		info.Category = entry.Category
		info.Kind = entry.Kind
		if entry.DisplayName != "" {
			info.DisplayName = entry.DisplayName
		}
		return info
	}

	for _, rule := range t.prefixes {
		if !strings.HasPrefix(key, rule.Prefix) {
			continue
		}
		info.Category = rule.Category
		info.External = true
		rest := strings.ReplaceAll(key[len(rule.Prefix):], "__", "/")
		switch {
		case rule.DisplayName != "" && rest != "":
			info.DisplayName = rule.DisplayName + " " + rest
		case rule.DisplayName != "":
			info.DisplayName = rule.DisplayName
		}
		return info
	}

	return info
}

// Aliases returns every registered alias in sorted order
func (t *Table) Aliases() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prefixes returns a copy of the prefix rules
func (t *Table) Prefixes() []PrefixRule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]PrefixRule, len(t.prefixes))
	copy(out, t.prefixes)
	return out
}

// Version returns the table format version
func (t *Table) Version() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// tableFile is the on-disk layout of a classification table
type tableFile struct {
	Version  int              `mapstructure:"version"`
	Aliases  map[string]Entry `mapstructure:"aliases"`
	Prefixes []PrefixRule     `mapstructure:"prefixes"`
}

// LoadTable reads a YAML (or any viper-supported) table file and merges it
// over the default table. Entries in the file replace defaults with the same alias.
func LoadTable(path string) (*Table, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read tool table %s: %w", path, err)
	}

	var file tableFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool table %s: %w", path, err)
	}

	if file.Version == 0 {
		return nil, TableError{Message: fmt.Sprintf("%s: missing version", path)}
	}
	if file.Version > TableVersion {
		return nil, TableError{Message: fmt.Sprintf("%s: version %d is newer than supported version %d", path, file.Version, TableVersion)}
	}

	table := DefaultTable()
	for alias, entry := range file.Aliases {
		if entry.Category == "" {
			entry.Category = CategoryOther
		}
		if err := table.Set(alias, entry); err != nil {
			return nil, err
		}
	}
	for _, rule := range file.Prefixes {
		if err := table.AddPrefix(rule); err != nil {
			return nil, err
		}
	}

	table.version = file.Version
	return table, nil
}

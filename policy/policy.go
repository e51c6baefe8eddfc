// Package policy holds the active set of named safety policies the risk
// assessor consults: critical tables, personal-data tables, and dangerous
// statement patterns. The store is read-mostly but supports add/remove so
// deployments can customize the lists.
package policy

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fieldgrid/safeguard/types"
)

// Pattern is a dangerous-statement rule matched against raw query text.
// The match is an approximate regex check over text, not a SQL parse; both
// false positives and false negatives are possible. Preserved as-is for
// compatibility with the upstream classifier.
type Pattern struct {
	ID   string
	Expr *regexp.Regexp
	// Exclude suppresses the match when it also matches; used to model
	// "mutating DML without a row-limiting predicate".
	Exclude  *regexp.Regexp
	Category types.IssueCategory
	Severity types.IssueSeverity
	Message  string
	Fix      string
}

// Matches reports whether sql trips this rule.
func (p Pattern) Matches(sql string) bool {
	if !p.Expr.MatchString(sql) {
		return false
	}
	if p.Exclude != nil && p.Exclude.MatchString(sql) {
		return false
	}
	return true
}

// Store holds the named policy lists behind a single RWMutex.
type Store struct {
	mu             sync.RWMutex
	criticalTables map[string]struct{}
	personalTables map[string]struct{}
	patterns       []Pattern
}

// NewStore creates an empty policy store.
func NewStore() *Store {
	return &Store{
		criticalTables: make(map[string]struct{}),
		personalTables: make(map[string]struct{}),
	}
}

// DefaultStore creates a store seeded with the stock rule set for a
// field-services deployment.
func DefaultStore() *Store {
	s := NewStore()
	for _, t := range []string{"users", "businesses", "payments", "invoices", "service_agreements"} {
		s.AddCriticalTable(t)
	}
	for _, t := range []string{"customers", "employees", "users"} {
		s.AddPersonalDataTable(t)
	}
	s.patterns = append(s.patterns, DefaultPatterns()...)
	return s
}

// DefaultPatterns returns the stock dangerous-statement rules.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			ID:       "destructive_ddl",
			Expr:     regexp.MustCompile(`(?is)\b(DROP\s+(TABLE|DATABASE|SCHEMA)\b|TRUNCATE\b)`),
			Category: types.CategoryDataLoss,
			Severity: types.SeverityCritical,
			Message:  "destructive DDL statement detected",
			Fix:      "Use a soft-delete or archive strategy instead of dropping objects",
		},
		{
			ID:       "unbounded_delete",
			Expr:     regexp.MustCompile(`(?is)\bDELETE\s+FROM\b`),
			Exclude:  regexp.MustCompile(`(?is)\bWHERE\b`),
			Category: types.CategoryDataLoss,
			Severity: types.SeverityCritical,
			Message:  "DELETE without a WHERE clause affects every row",
			Fix:      "Add a row-limiting WHERE predicate",
		},
		{
			ID:       "unbounded_update",
			Expr:     regexp.MustCompile(`(?is)\bUPDATE\s+\S+\s+SET\b`),
			Exclude:  regexp.MustCompile(`(?is)\bWHERE\b`),
			Category: types.CategoryDataLoss,
			Severity: types.SeverityCritical,
			Message:  "UPDATE without a WHERE clause affects every row",
			Fix:      "Add a row-limiting WHERE predicate",
		},
		{
			ID:       "statement_chaining",
			Expr:     regexp.MustCompile(`;\s*\S`),
			Category: types.CategorySecurity,
			Severity: types.SeverityCritical,
			Message:  "multiple chained statements detected",
			Fix:      "Submit one statement per request",
		},
		{
			ID:       "comment_injection",
			Expr:     regexp.MustCompile(`(--|/\*)`),
			Category: types.CategorySecurity,
			Severity: types.SeverityCritical,
			Message:  "SQL comment sequence detected, possible injection",
			Fix:      "Strip comments and use parameterized statements",
		},
		{
			ID:       "dynamic_execution",
			Expr:     regexp.MustCompile(`(?is)\b(EXEC(UTE)?\s*\(|xp_cmdshell|sp_executesql)`),
			Category: types.CategorySecurity,
			Severity: types.SeverityCritical,
			Message:  "dynamic execution construct detected",
			Fix:      "Do not build statements from untrusted input",
		},
	}
}

// normalizeTable lowercases and strips schema qualification and quoting so
// lookups match however the statement spells the table. The schema split
// happens before quote trimming: in a form like `public."Payments"` the
// quotes sit inside the qualified name.
func normalizeTable(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.Trim(name, `"`)
}

// AddCriticalTable registers a table for strict validation.
func (s *Store) AddCriticalTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.criticalTables[normalizeTable(name)] = struct{}{}
}

// RemoveCriticalTable drops a table from the critical list.
func (s *Store) RemoveCriticalTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.criticalTables, normalizeTable(name))
}

// IsCriticalTable reports whether name is on the critical-table list.
func (s *Store) IsCriticalTable(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.criticalTables[normalizeTable(name)]
	return ok
}

// CriticalTables returns the critical-table list sorted by name.
func (s *Store) CriticalTables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.criticalTables)
}

// AddPersonalDataTable registers a table as holding personal data.
func (s *Store) AddPersonalDataTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personalTables[normalizeTable(name)] = struct{}{}
}

// RemovePersonalDataTable drops a table from the personal-data list.
func (s *Store) RemovePersonalDataTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.personalTables, normalizeTable(name))
}

// IsPersonalDataTable reports whether name holds personal data.
func (s *Store) IsPersonalDataTable(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.personalTables[normalizeTable(name)]
	return ok
}

// PersonalDataTables returns the personal-data list sorted by name.
func (s *Store) PersonalDataTables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.personalTables)
}

// AddPattern appends a dangerous-statement rule.
func (s *Store) AddPattern(p Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, p)
}

// RemovePattern deletes the rule with the given id, if present.
func (s *Store) RemovePattern(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.patterns[:0]
	for _, p := range s.patterns {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	s.patterns = kept
}

// Patterns returns a copy of the active dangerous-statement rules.
func (s *Store) Patterns() []Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Pattern, len(s.patterns))
	copy(out, s.patterns)
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

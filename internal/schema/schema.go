// Package schema defines the dialect-neutral catalog data model captured
// by a Dialect Adapter's snapshot() call and cached by the Schema Snapshot
// Store.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// ForeignKey describes a single-column foreign key. Composite keys are
// represented as multiple ForeignKey entries sharing FromColumn prefixes;
// this core only needs join-hint derivation, not full constraint fidelity.
type ForeignKey struct {
	FromColumn string
	ToTable    string
	ToColumn   string
}

// Column describes one column of a Table.
type Column struct {
	Name         string
	DataType     string
	Nullable     bool
	Default      string
	IsPrimaryKey bool
	IsForeignKey bool
	References   *ForeignKey
}

// Table describes one table or view captured in a snapshot.
type Table struct {
	Name           string
	QualifiedName  string
	IsView         bool
	Columns        []Column
	PrimaryKeys    []string
	ForeignKeys    []ForeignKey
	ApproxRowCount int64
	SampleRows     []map[string]any
}

// Column looks up a column by case-insensitive name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// Snapshot is a SchemaSnapshot: the per-database-plus-schema catalog
// description the rest of the core treats as read-only after capture.
type Snapshot struct {
	DatabaseName string
	SchemaName   string
	Tables       []Table
	CapturedAt   time.Time
}

// Table looks up a table by case-insensitive name.
func (s *Snapshot) Table(name string) (*Table, bool) {
	for i := range s.Tables {
		if strings.EqualFold(s.Tables[i].Name, name) {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// TableNames returns every table name in capture order.
func (s *Snapshot) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// HasColumn reports whether table.column exists in the snapshot,
// case-insensitively. Used to enforce identifier containment (spec §8.4).
func (s *Snapshot) HasColumn(table, column string) bool {
	t, ok := s.Table(table)
	if !ok {
		return false
	}
	_, ok = t.Column(column)
	return ok
}

// ContentHash is a stable hash of the snapshot's structure (table, column,
// type, and key shape — not sample rows or row counts, which churn
// independently of schema meaning) used by the Ontology Builder to decide
// whether regeneration is needed.
func (s *Snapshot) ContentHash() string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)

	h := sha256.New()
	h.Write([]byte(s.DatabaseName + "\x00" + s.SchemaName + "\x00"))
	for _, name := range names {
		t, _ := s.Table(name)
		h.Write([]byte(t.Name + "\x00"))
		cols := append([]Column(nil), t.Columns...)
		sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
		for _, c := range cols {
			h.Write([]byte(c.Name + "\x00" + c.DataType + "\x00"))
			if c.IsPrimaryKey {
				h.Write([]byte("pk\x00"))
			}
			if c.IsForeignKey {
				h.Write([]byte("fk\x00"))
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Focused returns a copy of the snapshot restricted to the named tables,
// plus their immediate FK neighbors, as used by the Prompt Composer under
// retry conditions (spec §4.3, §4.8). It is a pure function over an
// already-captured snapshot; no adapter round-trip is needed since tables
// are immutable once captured.
func (s *Snapshot) Focused(tableNames []string) *Snapshot {
	want := make(map[string]bool, len(tableNames)*2)
	for _, n := range tableNames {
		want[strings.ToLower(n)] = true
	}

	// pull in immediate FK neighbors in both directions
	for _, t := range s.Tables {
		if !want[strings.ToLower(t.Name)] {
			continue
		}
		for _, fk := range t.ForeignKeys {
			want[strings.ToLower(fk.ToTable)] = true
		}
	}
	for _, t := range s.Tables {
		for _, fk := range t.ForeignKeys {
			if want[strings.ToLower(fk.ToTable)] {
				want[strings.ToLower(t.Name)] = true
			}
		}
	}

	out := &Snapshot{
		DatabaseName: s.DatabaseName,
		SchemaName:   s.SchemaName,
		CapturedAt:   s.CapturedAt,
	}
	for _, t := range s.Tables {
		if want[strings.ToLower(t.Name)] {
			out.Tables = append(out.Tables, t)
		}
	}
	return out
}

// Package schema is the generic, data-driven field descriptor used by the
// logins engine to describe per-field merge strategy.
// Per spec.md §9, this is deliberately data (a table of FieldMerge values)
// rather than a class hierarchy: a collection builds one RecordSchema
// and uses FieldMerge.Resolve and RecordSchema.ValidateDedupeFields
// instead of re-implementing three-way-merge precedence per type.
package schema

import "fmt"

// Strategy names the way a field's conflicting local/remote changes are
// resolved when both sides changed since the shared parent.
type Strategy int

const (
	// LatestWins resolves a two-sided conflict by preferring whichever
	// side has the newer modification timestamp (spec.md §4.1).
	LatestWins Strategy = iota
	// Commutative fields are summed: local + remote - shared, the
	// times-used accounting rule in spec.md §4.1 and §8.
	Commutative
)

// FieldMerge describes one field of a record type.
type FieldMerge struct {
	Name string
	// Strategy governs two-sided conflicts. Ignored for one-sided changes,
	// which always take the side that changed.
	Strategy Strategy
	// CompositeRoot names the logical value this field is a member of
	// (e.g. "origin" for scheme+host+port), or "" if the field stands
	// alone. Only ValidateDedupeFields reads it; Resolve decides each
	// field on its own, so composite members are not merged as a unit.
	CompositeRoot string
}

// RecordSchema is the full per-collection field table.
type RecordSchema struct {
	Fields map[string]FieldMerge
}

// NewRecordSchema builds a schema from an ordered field list, erroring if
// any field name is duplicated.
func NewRecordSchema(fields ...FieldMerge) (*RecordSchema, error) {
	m := make(map[string]FieldMerge, len(fields))
	for _, f := range fields {
		if _, exists := m[f.Name]; exists {
			return nil, fmt.Errorf("schema: duplicate field %q", f.Name)
		}
		m[f.Name] = f
	}
	return &RecordSchema{Fields: m}, nil
}

// ValidateDedupeFields enforces the rule from spec.md §9: dedupe-on fields
// must either all be composite members of the same root, or none of them
// composite at all. Mixing a composite member with an unrelated plain
// field, or with a member of a different composite root, is a schema
// error caught here rather than producing a silently wrong dedupe key.
func (s *RecordSchema) ValidateDedupeFields(fields []string) error {
	root := ""
	sawComposite := false
	sawPlain := false
	for _, name := range fields {
		f, ok := s.Fields[name]
		if !ok {
			return fmt.Errorf("schema: dedupe field %q not declared", name)
		}
		if f.CompositeRoot == "" {
			sawPlain = true
			continue
		}
		sawComposite = true
		if root == "" {
			root = f.CompositeRoot
		} else if root != f.CompositeRoot {
			return fmt.Errorf("schema: dedupe fields span composite roots %q and %q", root, f.CompositeRoot)
		}
	}
	if sawComposite && sawPlain {
		return fmt.Errorf("schema: dedupe fields mix composite member(s) of %q with plain field(s)", root)
	}
	return nil
}

// ConflictInput describes the state of one field when both the local
// overlay and the incoming remote record differ from the shared parent.
type ConflictInput struct {
	LocalChanged  bool
	RemoteChanged bool
	// LocalNewer is consulted only when both sides changed and Strategy
	// is LatestWins.
	LocalNewer bool
}

// Decision names which side's value a conflict resolves to.
type Decision int

const (
	KeepShared Decision = iota
	TakeLocal
	TakeRemote
	Sum
)

// Resolve applies field's merge strategy to the given conflict input.
func (f FieldMerge) Resolve(in ConflictInput) Decision {
	if f.Strategy == Commutative {
		return Sum
	}
	switch {
	case in.LocalChanged && in.RemoteChanged:
		if in.LocalNewer {
			return TakeLocal
		}
		return TakeRemote
	case in.LocalChanged:
		return TakeLocal
	case in.RemoteChanged:
		return TakeRemote
	default:
		return KeepShared
	}
}

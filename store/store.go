// Package store holds the engine's working set of compiled predicates
// behind a lock-free reader path. A single atomic pointer cell publishes
// immutable Snapshots; readers clone the pointer and never block on a
// writer, matching spec §4.7 and §5's "readers never wait on a lock" rule.
//
// This deviates deliberately from the teacher pack's own cache
// (holomush's policy.Cache, which guards its snapshot with sync.RWMutex):
// the specification calls for a true lock-free read path, so the cell
// here is a sync/atomic atomic.Pointer[Snapshot] rather than a mutex.
package store

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"

	"ipe/ast"
	"ipe/bytecode"
	"ipe/compiler"
	"ipe/parser"
	"ipe/tiering"
	"ipe/value"
)

// Entry pairs a compiled predicate with the metadata recovered from its
// source predicate block.
type Entry struct {
	Name     string
	Compiled *bytecode.CompiledPredicate
	Metadata map[string]string
	// ResourceType is the literal resource.type discriminator recovered
	// from the predicate's triggers at compile time, or "" if the
	// predicate's triggers don't gate on a single resource type (in
	// which case the entry is considered for every resource type).
	ResourceType string
	// Counters tracks this entry's tiering promotion state (spec §4.9).
	// It is fresh for every compiled entry: a recompiled predicate starts
	// its promotion history over, since its bytecode may have changed.
	Counters *tiering.Counters
}

// Snapshot is an immutable, point-in-time view of the predicate set. It is
// safe for unsynchronized concurrent reads: nothing in a published
// Snapshot is ever mutated after construction.
type Snapshot struct {
	Version uint64
	Entries []Entry
	// index maps a resource type id to the positions in Entries whose
	// triggers reference that resource type, preserving source order.
	index map[string][]int
}

// resourceTypeOf extracts the literal resource-type discriminator a
// predicate's triggers are gated on, read from the parsed AST. A
// predicate with no identifiable resource-type literal is indexed under
// the wildcard key "" and is considered for every resource type.
func resourceTypeOf(pred *ast.Predicate) string {
	for _, cond := range pred.Triggers {
		if rt, ok := bindingResourceType(cond); ok {
			return rt
		}
	}
	return ""
}

// bindingResourceType recognizes the `resource.type == "X"` shape the
// store's candidate index keys on, searching through And-chains since
// "triggers when resource.type == X and ..." parses as a single Logical
// node rather than separate top-level conditions.
func bindingResourceType(expr ast.Expression) (string, bool) {
	switch e := expr.(type) {
	case *ast.Binary:
		if e.Op != ast.Eq {
			return "", false
		}
		path, ok := e.Left.(*ast.Path)
		if !ok || len(path.Segments) != 2 || path.Segments[0] != "resource" || path.Segments[1] != "type" {
			return "", false
		}
		lit, ok := e.Right.(*ast.Literal)
		if !ok || lit.Value.Kind() != value.KindString {
			return "", false
		}
		return lit.Value.AsString(), true

	case *ast.Logical:
		if e.Op != ast.And {
			return "", false
		}
		for _, operand := range e.Operands {
			if rt, ok := bindingResourceType(operand); ok {
				return rt, true
			}
		}
		return "", false

	default:
		return "", false
	}
}

// Candidates returns the entries indexed under resourceType, in source
// order, followed by the wildcard entries that apply to every type.
func (s *Snapshot) Candidates(resourceType string) []Entry {
	var out []Entry
	for _, i := range s.index[resourceType] {
		out = append(out, s.Entries[i])
	}
	if resourceType != "" {
		for _, i := range s.index[""] {
			out = append(out, s.Entries[i])
		}
	}
	return out
}

// Stats holds the running counters spec §4.7 step 4 requires the store to
// record per update: reads, applied updates, failed updates, and the
// current snapshot version.
type Stats struct {
	Reads   uint64
	Updates uint64
	Failed  uint64
	Version uint64
}

// UpdateRequest is one of AddPredicate, RemovePredicate, or ReplaceAll.
// Exactly one field is populated; applyLocked dispatches on which.
type UpdateRequest struct {
	AddSource    string
	RemoveName   string
	ReplaceAll   []string
	replaceAllOK bool // set by ReplaceAllRequest to distinguish a nil slice from "unset"
}

// AddPredicate builds an UpdateRequest that compiles source and adds its
// predicate(s) to the store.
func AddPredicate(source string) UpdateRequest { return UpdateRequest{AddSource: source} }

// RemovePredicate builds an UpdateRequest that drops the named entry.
func RemovePredicate(name string) UpdateRequest { return UpdateRequest{RemoveName: name} }

// ReplaceAllRequest builds an UpdateRequest that recompiles sources and
// replaces the entire predicate set.
func ReplaceAllRequest(sources []string) UpdateRequest {
	return UpdateRequest{ReplaceAll: sources, replaceAllOK: true}
}

// CompileError reports a parse or compile failure during an update; per
// spec §4.7 step 1, any such failure aborts the update and leaves the
// store unchanged.
type CompileError struct {
	Source string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("store: compile failed: %v", e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// NotFoundError reports RemovePredicate naming an entry that does not
// exist in the current snapshot.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("store: predicate %q not found", e.Name)
}

// NameConflict reports an update that would leave two entries sharing one
// name in the resulting snapshot, violating spec §3's "within one
// snapshot, names are unique" invariant. The update is rejected and the
// store is left unchanged (spec §4.7 step 1).
type NameConflict struct {
	Name string
}

func (e *NameConflict) Error() string {
	return fmt.Sprintf("store: duplicate predicate name %q", e.Name)
}

// checkUnique rejects entries containing two entries with the same name,
// whether the collision came from a single source file declaring a name
// twice or from an update colliding with an existing entry.
func checkUnique(entries []Entry) error {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			return &NameConflict{Name: e.Name}
		}
		seen[e.Name] = true
	}
	return nil
}

// Store is the lock-free predicate data store. The zero value is not
// usable; construct with New.
type Store struct {
	cell  atomic.Pointer[Snapshot]
	stats struct {
		reads, updates, failed atomic.Uint64
	}
	// updateMu serializes producers onto the single logical update
	// channel spec §4.7 describes ("an internal update queue serializes
	// producers"); readers never touch it.
	updateMu sync.Mutex
	log      *slog.Logger
}

// New returns an empty Store, ready for reads and updates.
func New() *Store {
	s := &Store{log: slog.Default().With("component", "store")}
	s.cell.Store(&Snapshot{index: map[string][]int{}})
	return s
}

// Current returns the store's current snapshot. The call is wait-free: it
// loads the cell's pointer and returns immediately. The returned Snapshot
// is immutable and remains valid for the caller regardless of later
// updates.
func (s *Store) Current() *Snapshot {
	s.stats.reads.Add(1)
	return s.cell.Load()
}

// Stats reports the store's running counters.
func (s *Store) Stats() Stats {
	cur := s.cell.Load()
	return Stats{
		Reads:   s.stats.reads.Load(),
		Updates: s.stats.updates.Load(),
		Failed:  s.stats.failed.Load(),
		Version: cur.Version,
	}
}

// SubmitUpdate applies req, publishing a new Snapshot on success. Updates
// from multiple goroutines serialize on updateMu (spec's "single writer
// queue"); a failed compile aborts the whole update and leaves the store
// untouched.
func (s *Store) SubmitUpdate(req UpdateRequest) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	cur := s.cell.Load()

	next, err := s.applyLocked(cur, req)
	if err != nil {
		s.stats.failed.Add(1)
		s.log.Error("update rejected", "error", err)
		return oops.
			Code("STORE_UPDATE_FAILED").
			Wrapf(err, "submit update")
	}

	s.cell.Store(next)
	s.stats.updates.Add(1)
	s.log.Info("snapshot published", "version", next.Version, "entries", len(next.Entries))
	return nil
}

func (s *Store) applyLocked(cur *Snapshot, req UpdateRequest) (*Snapshot, error) {
	switch {
	case req.AddSource != "":
		entries, err := compileSource(req.AddSource)
		if err != nil {
			return nil, err
		}
		merged := append(append([]Entry{}, cur.Entries...), entries...)
		if err := checkUnique(merged); err != nil {
			return nil, err
		}
		return buildSnapshot(cur.Version+1, merged), nil

	case req.RemoveName != "":
		kept := make([]Entry, 0, len(cur.Entries))
		found := false
		for _, e := range cur.Entries {
			if e.Name == req.RemoveName {
				found = true
				continue
			}
			kept = append(kept, e)
		}
		if !found {
			return nil, &NotFoundError{Name: req.RemoveName}
		}
		return buildSnapshot(cur.Version+1, kept), nil

	case req.replaceAllOK:
		var all []Entry
		for _, src := range req.ReplaceAll {
			entries, err := compileSource(src)
			if err != nil {
				return nil, err
			}
			all = append(all, entries...)
		}
		if err := checkUnique(all); err != nil {
			return nil, err
		}
		return buildSnapshot(cur.Version+1, all), nil

	default:
		return nil, fmt.Errorf("store: empty UpdateRequest")
	}
}

// compileSource parses and compiles every predicate block in source,
// returning one Entry per predicate. A parse or compile error on any
// predicate aborts the whole call.
func compileSource(source string) ([]Entry, error) {
	preds, errs := parser.Parse(source)
	if len(errs) > 0 {
		return nil, &CompileError{Source: source, Err: fmt.Errorf("%d parse error(s), first: %s", len(errs), errs[0].Message)}
	}
	entries := make([]Entry, 0, len(preds))
	for _, pred := range preds {
		cp, err := compiler.Compile(pred)
		if err != nil {
			return nil, &CompileError{Source: source, Err: err}
		}
		entries = append(entries, Entry{
			Name:         cp.Name,
			Compiled:     cp,
			Metadata:     pred.Metadata,
			ResourceType: resourceTypeOf(pred),
			Counters:     &tiering.Counters{},
		})
	}
	return entries, nil
}

// buildSnapshot constructs a fully-formed, immutable Snapshot: the
// resource-type index is rebuilt from scratch so the published pointer
// never needs further mutation (spec §5: "payload fully constructed
// before it becomes visible").
func buildSnapshot(version uint64, entries []Entry) *Snapshot {
	idx := make(map[string][]int, len(entries))
	for i, e := range entries {
		idx[e.ResourceType] = append(idx[e.ResourceType], i)
	}
	return &Snapshot{Version: version, Entries: entries, index: idx}
}

package tablet

import "github.com/lakedb/tablet/internal/base"

// Options configures applier behavior. Unset fields are filled with
// defaults by EnsureDefaults, following the teacher's own
// Options/EnsureDefaults convention (see options.go in the teacher tree).
type Options struct {
	// EnablePrimaryKeyRecover gates the recovery envelope of spec.md
	// §4.2.5. When false, a non-OK recover flag makes Apply return an
	// ErrInternal error instead of triggering recovery.
	EnablePrimaryKeyRecover bool

	// EnableSizeTieredCompactionStrategy makes non-PK OpCompaction reset
	// CumulativePoint to 0 instead of recomputing it (spec.md §4.3.2).
	EnableSizeTieredCompactionStrategy bool

	// Logger receives diagnostic messages about notable state
	// transitions (recovery triggered, intermediate snapshot persisted,
	// index cache entry busy and left for its holder to evict). Defaults
	// to base.DefaultLogger.
	Logger base.Logger
}

// EnsureDefaults returns o, or a new zero-value Options, with every unset
// field filled in. It never modifies a nil receiver's pointee in place
// when o is nil; it allocates instead.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	return o
}

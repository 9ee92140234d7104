package tablet

import (
	"github.com/lakedb/tablet/internal/base"
	"github.com/lakedb/tablet/internal/meta"
	"github.com/lakedb/tablet/internal/update"
)

// applyAlterMetadata implements the shared alter-metadata handler of
// spec.md §4.4. Both the PK and non-PK appliers hold a real update.Manager
// and call this identically, the same way the original's
// apply_alter_meta_log is invoked unconditionally by both
// PrimaryKeyTxnLogApplier and NonPrimaryKeyTxnLogApplier through
// tablet_mgr()->update_mgr() — there is no key-type carve-out here.
func applyAlterMetadata(
	md *meta.TabletMetadata, op *meta.OpAlterMetadata, mgr update.Manager, opts *Options,
) error {
	if op.EnablePersistentIndex != nil {
		md.EnablePersistentIndex = *op.EnablePersistentIndex
		mgr.SetEnablePersistentIndex(md.TabletID, *op.EnablePersistentIndex)
		if !mgr.TryRemoveIndexCacheByKey(md.TabletID) {
			base.ForTablet(opts.Logger, md.TabletID).Infof("primary index cache entry busy, will be evicted by its current holder")
		}
	}
	if op.TabletSchema != nil {
		md.Schema = op.TabletSchema.Clone()
	}
	return nil
}

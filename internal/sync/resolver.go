package sync

import (
	"time"

	"github.com/sproutlabs/sproutsync/internal/remote"
	"github.com/sproutlabs/sproutsync/internal/store"
)

// resolveChild decides which of two versions of a child profile wins.
// Last-write-wins by updated_at: if the local record was modified more
// recently, keep it; otherwise accept the remote record. Ties favor the
// remote version so that simultaneous edits from two devices converge to
// the server's view. The result is always a whole record, never a
// field-by-field merge; localWon tells the caller the local copy survived
// so its sync lifecycle (a not-yet-uploaded edit, say) must not be touched.
//
// Pure function: no I/O, inputs are never mutated.
func resolveChild(local *store.Child, rem remote.Child) (resolved store.Child, localWon bool) {
	// No local record — accept remote as-is.
	if local == nil {
		return localChild(rem), false
	}

	localAt, lerr := time.Parse(time.RFC3339, local.UpdatedAt)
	remoteAt, rerr := time.Parse(time.RFC3339, rem.UpdatedAt)

	// Local is strictly newer — keep local data. Unparseable timestamps
	// fall through to the remote side.
	if lerr == nil && rerr == nil && localAt.After(remoteAt) {
		return *local, true
	}

	return localChild(rem), false
}

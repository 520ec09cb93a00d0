package sync

import (
	"context"
	"time"

	"github.com/sproutlabs/sproutsync/internal/logger"
	"github.com/sproutlabs/sproutsync/internal/store"
)

// pull fetches remote changes since the last watermark per entity family and
// merges them locally, children before events. A failed family is logged and
// keeps its previous watermark, so it is retried with the same lower bound
// next cycle; it never blocks the other family.
func (e *Engine) pull(ctx context.Context) error {
	sinceChildren, err := e.store.Watermark(store.WatermarkChildren)
	if err != nil {
		return err
	}
	sinceEvents, err := e.store.Watermark(store.WatermarkEvents)
	if err != nil {
		return err
	}

	// One timestamp captured at cycle start, applied to both families.
	// Under clock skew this re-fetches a slightly wider window next time
	// rather than missing records written while the pull ran.
	now := time.Now().UTC().Format(time.RFC3339)

	childrenOK, err := e.pullChildren(ctx, sinceChildren)
	if err != nil {
		return err
	}
	eventsOK, err := e.pullEvents(ctx, sinceEvents)
	if err != nil {
		return err
	}

	if childrenOK {
		if err := e.store.SetWatermark(store.WatermarkChildren, now); err != nil {
			return err
		}
	}
	if eventsOK {
		if err := e.store.SetWatermark(store.WatermarkEvents, now); err != nil {
			return err
		}
	}

	return nil
}

// pullChildren merges remote children into the local store, resolving each
// against any existing local version. Returns false when the fetch itself
// failed; an error return is a local store fault.
func (e *Engine) pullChildren(ctx context.Context, since *string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	remoteChildren, err := e.remote.FetchChildrenSince(callCtx, since)
	cancel()
	if err != nil {
		logger.Warn("sync: pull children error: %v", err)
		return false, nil
	}

	logger.Debug("sync: pulled %d children", len(remoteChildren))

	for _, rc := range remoteChildren {
		local, err := e.store.GetChild(rc.ID)
		if err != nil {
			return false, err
		}

		resolved, localWon := resolveChild(local, rc)
		if localWon {
			// The local edit is newer than the remote copy. Leave the
			// record alone so a not-yet-acknowledged edit stays eligible
			// for the next push.
			continue
		}

		resolved.SyncStatus = store.StatusSynced
		if err := e.store.UpsertChild(resolved); err != nil {
			return false, err
		}
	}

	return true, nil
}

// pullEvents merges remote events into the local store. Events are never
// edited, so the merge is insert-if-absent and no resolver is involved.
func (e *Engine) pullEvents(ctx context.Context, since *string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	remoteEvents, err := e.remote.FetchEventsSince(callCtx, since)
	cancel()
	if err != nil {
		logger.Warn("sync: pull events error: %v", err)
		return false, nil
	}

	logger.Debug("sync: pulled %d events", len(remoteEvents))

	for _, re := range remoteEvents {
		ev := localEvent(re)
		ev.SyncStatus = store.StatusSynced

		if err := e.store.InsertEventIfAbsent(ev); err != nil {
			return false, err
		}
	}

	return true, nil
}

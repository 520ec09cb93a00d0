package sync

import (
	"context"
	"fmt"

	"github.com/sproutlabs/sproutsync/internal/logger"
	"github.com/sproutlabs/sproutsync/internal/store"
)

// push uploads every locally-pending record to the remote service. Children
// are pushed and acknowledged before any events referencing them, because the
// remote service enforces the same referential constraint as the local store.
func (e *Engine) push(ctx context.Context) error {
	if err := e.pushChildren(ctx); err != nil {
		return err
	}
	return e.pushEvents(ctx)
}

// pushChildren uploads pending children as one full batch. One record's
// failure marks that record error and moves on; it never blocks the rest of
// the batch.
func (e *Engine) pushChildren(ctx context.Context) error {
	pending, err := e.store.PendingChildren()
	if err != nil {
		return fmt.Errorf("failed to scan pending children: %w", err)
	}

	if len(pending) == 0 {
		logger.Debug("sync: no pending children to push")
		return nil
	}

	logger.Debug("sync: pushing %d children", len(pending))

	for _, child := range pending {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("push aborted: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		err := e.remote.UpsertChild(callCtx, wireChild(child))
		cancel()

		if err != nil {
			logger.Warn("sync: failed to push child %s: %v", child.ID, err)
			if serr := e.store.SetChildSyncStatus(child.ID, store.StatusError); serr != nil {
				return serr
			}
			continue
		}

		if serr := e.store.SetChildSyncStatus(child.ID, store.StatusSynced); serr != nil {
			return serr
		}
	}

	return nil
}

// pushEvents uploads pending events as a second full batch, after every
// pending child has been processed. Events are append-only, so the upload is
// insert-with-ignore-on-duplicate: a duplicate id from a retried push is a
// success.
func (e *Engine) pushEvents(ctx context.Context) error {
	pending, err := e.store.PendingEvents()
	if err != nil {
		return fmt.Errorf("failed to scan pending events: %w", err)
	}

	if len(pending) == 0 {
		logger.Debug("sync: no pending events to push")
		return nil
	}

	logger.Debug("sync: pushing %d events", len(pending))

	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("push aborted: %w", err)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		err := e.remote.UpsertEvent(callCtx, wireEvent(event))
		cancel()

		if err != nil {
			logger.Warn("sync: failed to push event %s: %v", event.ID, err)
			if serr := e.store.SetEventSyncStatus(event.ID, store.StatusError); serr != nil {
				return serr
			}
			continue
		}

		if serr := e.store.SetEventSyncStatus(event.ID, store.StatusSynced); serr != nil {
			return serr
		}
	}

	return nil
}

package handlers

import (
	"context"

	"github.com/flare576/ei/internal/eitypes"
	"github.com/flare576/ei/internal/queueproc"
)

// HandleOneShot applies a one-shot Raw request's result by handing the raw
// content straight back to whoever submitted it, keyed by the guid they
// passed in (spec §3.4 "one-shot", §4.11 OnOneShotReturned).
func HandleOneShot(ctx context.Context, hc *Context, item eitypes.QueueItem, outcome queueproc.Outcome) ([]eitypes.QueueItem, error) {
	guid := dataString(item.Data, "guid")
	if handledAbort(outcome) {
		return nil, nil
	}
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	hc.Events.EmitOneShotReturned(guid, outcome.Content)
	return nil, nil
}

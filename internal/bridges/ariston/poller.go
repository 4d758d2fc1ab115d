package ariston

import (
	"context"
	"errors"
	"time"
)

// PollState is the poll loop's position within a cycle.
type PollState int32

const (
	PollIdle PollState = iota
	PollFetching
	PollMerging
)

func (s PollState) String() string {
	switch s {
	case PollFetching:
		return "fetching"
	case PollMerging:
		return "merging"
	default:
		return "idle"
	}
}

// secondaryEvery is the fetch interval of each secondary dataset, in poll
// periods.
var secondaryEvery = map[Dataset]int{
	DatasetAdditional:  2,
	DatasetErrors:      2,
	DatasetCHSchedule:  5,
	DatasetDHWSchedule: 5,
	DatasetEnergy:      10,
	DatasetLastMonth:   10,
}

var secondaryOrder = []Dataset{
	DatasetAdditional,
	DatasetErrors,
	DatasetCHSchedule,
	DatasetDHWSchedule,
	DatasetEnergy,
	DatasetLastMonth,
}

// PollState returns the poll loop's current state.
func (e *Engine) PollState() PollState {
	return PollState(e.pollState.Load())
}

func (e *Engine) setPollState(s PollState) {
	e.pollState.Store(int32(s))
}

// runLoop is the poll goroutine. started is closed as the first
// authentication attempt is issued; done is closed on exit.
func (e *Engine) runLoop(ctx context.Context, started chan<- struct{}, done chan<- struct{}) {
	defer close(done)

	e.markRunning()
	close(started)
	for {
		if ok := e.ensureSession(ctx); ok {
			e.pollOnce(ctx)
		}
		e.setPollState(PollIdle)
		e.updateDerived()

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.opts.Period):
		}
	}
}

// ensureSession logs in and resolves the plant when the session is not
// authenticated. Failures are logged and leave the engine unavailable.
func (e *Engine) ensureSession(ctx context.Context) bool {
	if e.session.authenticated() {
		return true
	}

	e.setPollState(PollFetching)
	plantID, features, err := e.authenticate(ctx)
	if err != nil {
		e.session.invalidate(err)
		e.primaryOK.Store(false)
		if ctx.Err() == nil {
			e.counters.authFailures.Add(1)
			e.logWarn("authentication failed, retrying next cycle", "error", err)
		}
		return false
	}

	for _, k := range e.catalog.ApplyFeatures(features) {
		e.logInfo("parameter not available on plant, dropped", "parameter", k.String())
	}
	e.session.established(plantID, features)
	e.lastFetched = make(map[Dataset]time.Time)
	e.logInfo("session established", "plant_id", plantID)
	return true
}

func (e *Engine) authenticate(ctx context.Context) (string, PlantFeatures, error) {
	if err := e.api.Login(ctx, e.opts.Username, e.opts.Password); err != nil {
		return "", PlantFeatures{}, err
	}

	gateways, err := e.api.Gateways(ctx)
	if err != nil {
		return "", PlantFeatures{}, err
	}
	plantID, err := chooseGateway(gateways, e.opts.Gateway)
	if err != nil {
		return "", PlantFeatures{}, err
	}

	features, err := e.api.PlantFeatures(ctx, plantID)
	if errors.Is(err, ErrUnsupportedParameter) {
		// Older plants have no features document; assume hot water exists
		// and let the main data response prune what is missing.
		return plantID, PlantFeatures{HasDHW: true}, nil
	}
	if err != nil {
		return "", PlantFeatures{}, err
	}
	return plantID, features, nil
}

// pollOnce runs one authenticated cycle: the primary fetch, then whichever
// secondary datasets are due while the cycle budget lasts.
func (e *Engine) pollOnce(ctx context.Context) {
	start := time.Now()
	plantID := e.session.get().PlantID
	e.counters.polls.Add(1)

	e.setPollState(PollFetching)
	mark := e.cache.mark()
	entries, err := e.readMain(ctx, plantID, e.catalog.ActiveIn(DatasetMain), true)
	if err != nil {
		e.primaryOK.Store(false)
		e.counters.pollFailures.Add(1)
		e.handleFetchError(ctx, DatasetMain, err)
		return
	}
	e.setPollState(PollMerging)
	e.cache.mergeSince(entries, mark)
	e.primaryOK.Store(true)

	for _, ds := range secondaryOrder {
		if !e.secondaryDue(ds, start) || len(e.catalog.ActiveIn(ds)) == 0 {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) >= e.opts.RequestTimeout {
			e.logDebug("secondary fetch skipped, cycle budget spent", "dataset", ds)
			continue
		}

		e.setPollState(PollFetching)
		mark = e.cache.mark()
		entries, err := e.readDataset(ctx, plantID, ds)
		if err != nil {
			e.handleFetchError(ctx, ds, err)
			if errors.Is(err, ErrAuthentication) {
				return
			}
			continue
		}
		e.setPollState(PollMerging)
		e.cache.mergeSince(filterActive(e.catalog, entries), mark)
		e.lastFetched[ds] = start
	}
}

func (e *Engine) secondaryDue(ds Dataset, now time.Time) bool {
	last, ok := e.lastFetched[ds]
	if !ok {
		return true
	}
	every := time.Duration(secondaryEvery[ds]) * e.opts.Period
	// Allow a little slack so a cycle that starts slightly early still fetches.
	return now.Sub(last) >= every-e.opts.Period/2
}

// handleFetchError absorbs a fetch failure according to its kind.
func (e *Engine) handleFetchError(ctx context.Context, ds Dataset, err error) {
	switch {
	case ctx.Err() != nil:
		return
	case errors.Is(err, ErrAuthentication):
		e.session.invalidate(err)
		e.primaryOK.Store(false)
		e.logWarn("remote session expired, re-authenticating next cycle", "dataset", ds, "error", err)
	case errors.Is(err, ErrUnsupportedParameter) && ds != DatasetMain:
		dropped := 0
		for _, k := range e.catalog.ActiveIn(ds) {
			if e.catalog.Deactivate(k) {
				dropped++
			}
		}
		e.logInfo("dataset not supported by device, dropped", "dataset", ds, "parameters", dropped)
	default:
		e.logWarn("fetch failed", "dataset", ds, "error", err)
	}
}

// readMain reads main data items for keys. With prune set, keys absent from
// a non-empty response are removed from the active set.
func (e *Engine) readMain(ctx context.Context, plantID string, keys []Key, prune bool) (map[string]*Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	req := MainDataRequest{
		Items:    itemRefs(keys),
		Features: e.session.get().Features.Raw,
	}
	items, err := e.api.MainData(ctx, plantID, req)
	if err != nil {
		return nil, err
	}

	entries, missing := decodeMain(items, keys)
	if prune && len(items) > 0 {
		for _, k := range missing {
			if e.catalog.Deactivate(k) {
				e.logInfo("parameter not reported by device, dropped", "parameter", k.String())
			}
		}
	}
	return entries, nil
}

func itemRefs(keys []Key) []ItemRef {
	seen := make(map[ItemRef]bool, len(keys))
	refs := make([]ItemRef, 0, len(keys))
	for _, k := range keys {
		ref := ItemRef{ID: descriptors[k.Base].ItemID, Zone: k.Zone}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

// readAdditional reads plant menu parameters. When the service rejects the
// batch as unsupported, each id is retried alone and the failing ones are
// removed from the active set.
func (e *Engine) readAdditional(ctx context.Context, plantID string, keys []Key, prune bool) (map[string]*Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	items, err := e.api.AdditionalParams(ctx, plantID, menuIDs(keys))
	if errors.Is(err, ErrUnsupportedParameter) {
		items, err = e.readAdditionalOneByOne(ctx, plantID, keys)
	}
	if err != nil {
		return nil, err
	}

	entries, missing := decodeMenu(items, keys)
	if prune && len(items) > 0 {
		for _, k := range missing {
			if e.catalog.Deactivate(k) {
				e.logInfo("parameter not reported by device, dropped", "parameter", k.String())
			}
		}
	}
	return entries, nil
}

func (e *Engine) readAdditionalOneByOne(ctx context.Context, plantID string, keys []Key) ([]MenuItem, error) {
	var items []MenuItem
	for _, k := range keys {
		got, err := e.api.AdditionalParams(ctx, plantID, []string{descriptors[k.Base].MenuID})
		if errors.Is(err, ErrUnsupportedParameter) {
			if e.catalog.Deactivate(k) {
				e.logInfo("parameter not supported by device, dropped", "parameter", k.String())
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		items = append(items, got...)
	}
	return items, nil
}

func menuIDs(keys []Key) []string {
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, descriptors[k.Base].MenuID)
	}
	return ids
}

// readDataset reads one secondary dataset.
func (e *Engine) readDataset(ctx context.Context, plantID string, ds Dataset) (map[string]*Entry, error) {
	switch ds {
	case DatasetAdditional:
		return e.readAdditional(ctx, plantID, e.catalog.ActiveIn(ds), true)

	case DatasetErrors:
		errs, err := e.api.Errors(ctx, plantID)
		if err != nil {
			return nil, err
		}
		return decodeErrors(errs), nil

	case DatasetCHSchedule:
		s, err := e.api.CHSchedule(ctx, plantID)
		if err != nil {
			return nil, err
		}
		return decodeSchedule(ParamCHProgram, s, time.Now()), nil

	case DatasetDHWSchedule:
		s, err := e.api.DHWSchedule(ctx, plantID)
		if err != nil {
			return nil, err
		}
		return decodeSchedule(ParamDHWProgram, s, time.Now()), nil

	case DatasetEnergy:
		seqs, err := e.api.Energy(ctx, plantID)
		if err != nil {
			return nil, err
		}
		return decodeEnergy(seqs), nil

	case DatasetLastMonth:
		items, err := e.api.LastMonth(ctx, plantID)
		if err != nil {
			return nil, err
		}
		return decodeLastMonth(items), nil

	default:
		return nil, nil
	}
}

// refreshKeys re-reads the given keys outside the regular cycle. Used after
// a stale write so the cache reflects the server's current value.
func (e *Engine) refreshKeys(ctx context.Context, plantID string, keys []Key) error {
	var main, menu []Key
	for _, k := range keys {
		switch descriptors[k.Base].Dataset {
		case DatasetMain:
			main = append(main, k)
		case DatasetAdditional:
			menu = append(menu, k)
		}
	}

	mark := e.cache.mark()
	entries, err := e.readMain(ctx, plantID, main, false)
	if err != nil {
		return err
	}
	e.cache.mergeSince(entries, mark)

	mark = e.cache.mark()
	entries, err = e.readAdditional(ctx, plantID, menu, false)
	if err != nil {
		return err
	}
	e.cache.mergeSince(entries, mark)
	return nil
}

package ariston

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Set request sources.
const (
	SourceAPI  = "api"
	SourceMQTT = "mqtt"
)

// SetResults maps each requested name to its outcome. A nil error means the
// change was accepted by the remote service or was already in effect.
type SetResults map[string]error

// Err joins the failures in name order, or returns nil if every change
// succeeded.
func (r SetResults) Err() error {
	var errs []error
	for _, name := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", name, r[name]))
	}
	return errors.Join(errs...)
}

// Failed returns the names that failed, sorted.
func (r SetResults) Failed() []string {
	var names []string
	for name, err := range r {
		if err != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SetRequest is one batch of parameter changes.
type SetRequest struct {
	// ID correlates the request with its history records and acks.
	// Generated when empty.
	ID string

	// Source names the surface the request came from.
	Source string

	// Changes maps parameter names to requested values. A bare zoned name
	// applies the value to every configured zone.
	Changes map[string]any
}

// SetStatus is the terminal outcome of one key in a set request.
type SetStatus string

const (
	SetSucceeded SetStatus = "succeeded"
	SetUnchanged SetStatus = "unchanged"
	SetFailed    SetStatus = "failed"
	SetRejected  SetStatus = "rejected"
)

// SetRecord describes the outcome for one key. Observers receive one record
// per key the request resolved to.
type SetRecord struct {
	RequestID string
	Source    string
	Parameter string
	Old       any
	New       any
	Status    SetStatus
	Err       error
	Attempts  int
	At        time.Time
}

// SetObserver receives set outcomes. It runs on the caller's goroutine and
// must not block.
type SetObserver func(SetRecord)

// keyLocker serialises set requests per lock name.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the named locks in sorted order and returns the release
// function.
func (l *keyLocker) lock(names []string) func() {
	uniq := make(map[string]bool, len(names))
	sorted := make([]string, 0, len(names))
	for _, n := range names {
		if !uniq[n] {
			uniq[n] = true
			sorted = append(sorted, n)
		}
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, n := range sorted {
		l.mu.Lock()
		m, ok := l.locks[n]
		if !ok {
			m = &sync.Mutex{}
			l.locks[n] = m
		}
		l.mu.Unlock()
		m.Lock()
		held = append(held, m)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// groupKey identifies one remote write call.
type groupKey struct {
	op   WriteOp
	zone int
}

func (g groupKey) lockName() string {
	return string(g.op) + ":" + strconv.Itoa(g.zone)
}

// keyChange is one validated change within a request.
type keyChange struct {
	name   string
	key    Key
	target WriteTarget
	old    any
	new    any
	status SetStatus
	err    error
	tries  int
}

// writeGroup is the set of changes carried by one remote write.
type writeGroup struct {
	key     groupKey
	changes []*keyChange
	base    map[string]any
}

// Set applies changes under a generated request id.
func (e *Engine) Set(ctx context.Context, changes map[string]any) SetResults {
	return e.Submit(ctx, SetRequest{Source: SourceAPI, Changes: changes})
}

// Submit validates the requested changes, applies them optimistically to the
// cache and writes them to the remote service, retrying transport failures
// up to MaxSetRetries attempts. Failed writes are rolled back. The returned
// results hold one entry per requested name.
func (e *Engine) Submit(ctx context.Context, req SetRequest) SetResults {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	results := make(SetResults, len(req.Changes))

	stopCh, err := e.beginSet()
	if err != nil {
		for name := range req.Changes {
			results[name] = err
		}
		return results
	}
	defer e.inflight.Done()
	e.counters.sets.Add(1)

	if !e.session.authenticated() {
		err := fmt.Errorf("%w: session not established", ErrAuthentication)
		for name := range req.Changes {
			results[name] = err
		}
		e.counters.setFailures.Add(1)
		return results
	}
	plantID := e.session.get().PlantID

	// Resolve names to keys; resolution failures are terminal for the name.
	byName := make(map[string][]*keyChange, len(req.Changes))
	var all []*keyChange
	for name, value := range req.Changes {
		keys, err := e.catalog.Resolve(name)
		if err != nil {
			results[name] = err
			continue
		}
		for _, k := range keys {
			kc := &keyChange{name: name, key: k, new: value}
			switch {
			case !e.catalog.Active(k):
				kc.status, kc.err = SetRejected, fmt.Errorf("%w: %s", ErrUnsupportedParameter, k)
			default:
				kc.target, kc.err = e.catalog.ResolveWriteTarget(k)
				if kc.err != nil {
					kc.status = SetRejected
				}
			}
			byName[name] = append(byName[name], kc)
			all = append(all, kc)
		}
	}

	var lockNames []string
	for _, kc := range all {
		if kc.err == nil {
			lockNames = append(lockNames, kc.key.String(), groupKey{op: kc.target.Op, zone: kc.target.Zone}.lockName())
		}
	}
	unlock := e.keyLocks.lock(lockNames)
	defer unlock()

	groups := e.prepare(all)
	e.updateDerived()

	if len(groups) > 0 {
		e.dispatchAll(ctx, plantID, groups, stopCh)
		e.updateDerived()
	}

	failed := false
	for name, kcs := range byName {
		results[name] = joinKeyErrors(kcs)
		if results[name] != nil {
			failed = true
		}
	}
	for name, err := range results {
		if err != nil && byName[name] == nil {
			failed = true
		}
	}
	if failed {
		e.counters.setFailures.Add(1)
	}

	e.notifyObservers(req, all)
	return results
}

// prepare validates each change against the cache, drops no-ops, rejects
// conflicting changes to the same payload field and applies the rest
// optimistically. It returns the write groups to dispatch.
func (e *Engine) prepare(all []*keyChange) []*writeGroup {
	type slot struct {
		group groupKey
		field string
	}
	slots := make(map[slot][]*keyChange)

	for _, kc := range all {
		if kc.err != nil {
			continue
		}
		var current *Entry
		if cur, err := e.cache.Get(kc.key.String()); err == nil {
			current = &cur
			kc.old = cur.Value
		}

		value, err := e.catalog.Validate(kc.key, kc.new, current)
		if err != nil {
			kc.status, kc.err = SetRejected, err
			continue
		}
		kc.new = value
		if current != nil && valuesEqual(current.Value, value) {
			kc.status = SetUnchanged
			continue
		}

		field := kc.target.Field
		if kc.target.Op == OpSubmitMenu {
			field = kc.target.MenuID
		}
		s := slot{group: groupKey{op: kc.target.Op, zone: kc.target.Zone}, field: field}
		slots[s] = append(slots[s], kc)
	}

	for _, kcs := range slots {
		for _, kc := range kcs[1:] {
			if !valuesEqual(kc.new, kcs[0].new) {
				for _, c := range kcs {
					c.status = SetRejected
					c.err = fmt.Errorf("%w: %s conflicts with another change in the same request", ErrValidation, c.key)
				}
				break
			}
		}
	}

	index := make(map[groupKey]*writeGroup)
	var groups []*writeGroup
	for _, kc := range all {
		if kc.err != nil || kc.status == SetUnchanged {
			continue
		}
		gk := groupKey{op: kc.target.Op, zone: kc.target.Zone}
		g, ok := index[gk]
		if !ok {
			g = &writeGroup{key: gk, base: e.baseFields(gk)}
			index[gk] = g
			groups = append(groups, g)
		}
		g.changes = append(g.changes, kc)
	}

	deadline := e.opts.RequestTimeout + e.opts.SetRetryDelay
	for _, g := range groups {
		for _, kc := range g.changes {
			now := time.Now()
			e.cache.applyOptimistic(PendingSet{
				Key:      kc.key.String(),
				New:      kc.new,
				Old:      kc.old,
				Started:  now,
				Deadline: now.Add(time.Duration(e.opts.MaxSetRetries) * deadline),
			})
		}
	}
	return groups
}

// baseFields reads the current values of every field carried by a combined
// temperature write. They are captured before any optimistic update.
func (e *Engine) baseFields(g groupKey) map[string]any {
	var sources map[string]Key
	switch g.op {
	case OpZoneTemperatures:
		sources = map[string]Key{
			FieldZoneComfort: {Base: ParamCHComfortTemperature, Zone: g.zone},
			FieldZoneEconomy: {Base: ParamCHEconomyTemperature, Zone: g.zone},
		}
	case OpDHWProgTemperatures:
		sources = map[string]Key{
			FieldDHWProgComfort: {Base: ParamDHWComfortTemperature},
			FieldDHWProgEconomy: {Base: ParamDHWEconomyTemperature},
		}
	default:
		return nil
	}

	base := make(map[string]any, len(sources))
	for field, k := range sources {
		if cur, err := e.cache.Get(k.String()); err == nil {
			base[field] = cur.Value
		} else {
			base[field] = nil
		}
	}
	// Zones that only report the active setpoint.
	if g.op == OpZoneTemperatures && base[FieldZoneComfort] == nil {
		if cur, err := e.cache.Get(Key{Base: ParamCHSetTemperature, Zone: g.zone}.String()); err == nil {
			base[FieldZoneComfort] = cur.Value
		}
	}
	return base
}

// dispatchAll runs each group's write concurrently and finalises the cache
// for its keys.
func (e *Engine) dispatchAll(ctx context.Context, plantID string, groups []*writeGroup, stopCh <-chan struct{}) {
	var g errgroup.Group
	for _, grp := range groups {
		g.Go(func() error {
			attempts, err := e.dispatch(ctx, plantID, grp, stopCh)
			e.finishGroup(ctx, plantID, grp, attempts, err)
			return nil
		})
	}
	_ = g.Wait()
}

// dispatch writes one group, retrying transport failures. No new attempt is
// started once the engine begins stopping.
func (e *Engine) dispatch(ctx context.Context, plantID string, g *writeGroup, stopCh <-chan struct{}) (int, error) {
	w := buildWrite(g)

	var lastErr error
	attempts := 0
	for attempts < e.opts.MaxSetRetries {
		if attempts > 0 {
			select {
			case <-stopCh:
				return attempts, fmt.Errorf("%w: %w", ErrNotRunning, lastErr)
			default:
			}

			timer := time.NewTimer(e.opts.SetRetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return attempts, fmt.Errorf("%w: %w", ctx.Err(), lastErr)
			case <-stopCh:
				timer.Stop()
				return attempts, fmt.Errorf("%w: %w", ErrNotRunning, lastErr)
			}
			e.counters.setRetries.Add(1)
		}

		attempts++
		for _, kc := range g.changes {
			e.cache.recordAttempt(kc.key.String(), attempts)
		}

		lastErr = e.api.Write(ctx, plantID, w)
		if lastErr == nil {
			return attempts, nil
		}
		if !isRetryable(lastErr) {
			return attempts, lastErr
		}
		e.logDebug("write attempt failed",
			"operation", g.key.op,
			"zone", g.key.zone,
			"attempt", attempts,
			"error", lastErr)
	}
	return attempts, lastErr
}

// finishGroup settles the pending writes of a group after its last attempt.
func (e *Engine) finishGroup(ctx context.Context, plantID string, g *writeGroup, attempts int, err error) {
	keys := make([]Key, 0, len(g.changes))
	for _, kc := range g.changes {
		kc.tries = attempts
		kc.err = err
		kc.status = SetSucceeded
		if err != nil {
			kc.status = SetFailed
		}
		e.cache.finishPending(kc.key.String(), err != nil)
		keys = append(keys, kc.key)
	}
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrStaleWrite):
		e.logInfo("write rejected as stale, refreshing", "operation", g.key.op, "zone", g.key.zone)
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.RequestTimeout)
		if rerr := e.refreshKeys(rctx, plantID, keys); rerr != nil {
			e.logWarn("refresh after stale write failed", "error", rerr)
		}
		cancel()
	case errors.Is(err, ErrAuthentication):
		e.reportAuthFailure(err)
	default:
		e.logWarn("write failed",
			"operation", g.key.op,
			"zone", g.key.zone,
			"attempts", attempts,
			"error", err)
	}
}

// buildWrite assembles the remote payload for a group. Combined temperature
// writes carry every field, using the cached value for fields not being
// changed.
func buildWrite(g *writeGroup) WriteRequest {
	w := WriteRequest{Op: g.key.op, Zone: g.key.zone}

	switch g.key.op {
	case OpZoneTemperatures, OpDHWProgTemperatures:
		newFields := make(map[string]any, len(g.base))
		oldFields := make(map[string]any, len(g.base))
		for f, v := range g.base {
			newFields[f] = wireValue(v)
			oldFields[f] = wireValue(v)
		}
		for _, kc := range g.changes {
			newFields[kc.target.Field] = wireValue(kc.new)
		}
		w.New, w.Old = newFields, oldFields

	case OpSubmitMenu:
		items := make([]MenuSubmit, 0, len(g.changes))
		for _, kc := range g.changes {
			items = append(items, MenuSubmit{
				ID:       kc.target.MenuID,
				NewValue: wireValue(kc.new),
				OldValue: wireValue(kc.old),
			})
		}
		w.New = items

	default:
		kc := g.changes[0]
		w.New, w.Old = wireValue(kc.new), wireValue(kc.old)
	}
	return w
}

// wireValue converts a cache value to its remote representation.
func wireValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

// joinKeyErrors reduces a name's per-key outcomes to one error. A name that
// fans out to several zones fails if any zone failed.
func joinKeyErrors(kcs []*keyChange) error {
	if len(kcs) == 1 {
		return kcs[0].err
	}
	var errs []error
	for _, kc := range kcs {
		if kc.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kc.key, kc.err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) notifyObservers(req SetRequest, all []*keyChange) {
	e.observersMu.RLock()
	observers := append([]SetObserver(nil), e.observers...)
	e.observersMu.RUnlock()
	if len(observers) == 0 {
		return
	}

	now := time.Now()
	for _, kc := range all {
		status := kc.status
		if status == "" {
			status = SetFailed
		}
		rec := SetRecord{
			RequestID: req.ID,
			Source:    req.Source,
			Parameter: kc.key.String(),
			Old:       kc.old,
			New:       kc.new,
			Status:    status,
			Err:       kc.err,
			Attempts:  kc.tries,
			At:        now,
		}
		for _, fn := range observers {
			fn(rec)
		}
	}
}

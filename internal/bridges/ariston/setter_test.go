package ariston

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func dhwEngine(t *testing.T, api *mockAPI) *Engine {
	t.Helper()
	api.setValue("DhwTemp", 0, 45.0)
	e := newTestEngine(t, api, []string{ParamDHWSetTemperature}, 1)
	startEngine(t, e)
	return e
}

func TestSet_DHWTemperature(t *testing.T) {
	api := newMockAPI()
	e := dhwEngine(t, api)

	var during Entry
	var pendingDuring []PendingSet
	api.writeHook = func(WriteRequest) {
		during, _ = e.Get(ParamDHWSetTemperature)
		pendingDuring = e.Pending()
	}

	results := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48})
	if err := results.Err(); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	writes := api.getWrites()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	if w := writes[0]; w.Op != OpDHWTemperature || w.New != 48.0 || w.Old != 45.0 {
		t.Errorf("write = %+v, want dhw_temperature 45 -> 48", w)
	}

	if during.Value != 48.0 {
		t.Errorf("value during write = %v, want optimistic 48", during.Value)
	}
	if len(pendingDuring) != 1 || pendingDuring[0].Old != 45.0 || pendingDuring[0].Attempts != 1 {
		t.Errorf("pending during write = %+v", pendingDuring)
	}

	got, _ := e.Get(ParamDHWSetTemperature)
	if got.Value != 48.0 {
		t.Errorf("value after write = %v, want 48", got.Value)
	}
	if len(e.Pending()) != 0 {
		t.Errorf("pending after write = %+v", e.Pending())
	}
	if cd, _ := e.Get(ParamChangingData); cd.Value != false {
		t.Errorf("changing_data = %v, want false", cd.Value)
	}
	if m := e.Metrics(); m.Sets != 1 || m.SetFailures != 0 || m.SetRetries != 0 {
		t.Errorf("Metrics() = %+v", m)
	}
}

func TestSet_OlderPollReadDoesNotRevert(t *testing.T) {
	api := newMockAPI()
	api.setValue("DhwTemp", 0, 45.0)
	e := newTestEngine(t, api, []string{ParamDHWSetTemperature}, 1)
	e.opts.Period = 20 * time.Millisecond
	startEngine(t, e)

	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	seen := make(chan any, 1)
	api.mu.Lock()
	api.mainHook = func(ctx context.Context) error {
		switch calls.Add(1) {
		case 1:
			close(entered)
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		case 2:
			// The previous cycle has merged its read of 45 by now.
			got, _ := e.Get(ParamDHWSetTemperature)
			seen <- got.Value
		}
		return nil
	}
	api.mu.Unlock()

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("poll did not start")
	}

	if err := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48}).Err(); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	close(release)

	select {
	case v := <-seen:
		if v != 48.0 {
			t.Errorf("value after merging the older read = %v, want 48", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("next poll did not start")
	}
}

func TestSet_IdempotentMakesNoCall(t *testing.T) {
	api := newMockAPI()
	e := dhwEngine(t, api)

	results := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 45})
	if err := results.Err(); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if n := len(api.getWrites()); n != 0 {
		t.Errorf("writes = %d, want 0 for an unchanged value", n)
	}
}

func TestSet_RetryThenSuccess(t *testing.T) {
	api := newMockAPI()
	e := dhwEngine(t, api)
	api.queueWriteErr(transportErr(EndpointSetDHWTemp))

	results := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48})
	if err := results.Err(); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if n := len(api.getWrites()); n != 2 {
		t.Errorf("writes = %d, want 2", n)
	}
	if m := e.Metrics(); m.SetRetries != 1 {
		t.Errorf("SetRetries = %d, want 1", m.SetRetries)
	}
}

func TestSet_RetryBoundThenRollback(t *testing.T) {
	api := newMockAPI()
	e := dhwEngine(t, api)
	api.queueWriteErr(
		transportErr(EndpointSetDHWTemp),
		transportErr(EndpointSetDHWTemp),
		transportErr(EndpointSetDHWTemp),
		transportErr(EndpointSetDHWTemp),
	)

	var records []SetRecord
	e.AddSetObserver(func(r SetRecord) { records = append(records, r) })

	results := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48})
	if !errors.Is(results[ParamDHWSetTemperature], ErrTransport) {
		t.Fatalf("result = %v, want ErrTransport", results[ParamDHWSetTemperature])
	}
	if n := len(api.getWrites()); n != 3 {
		t.Errorf("writes = %d, want exactly MaxSetRetries (3)", n)
	}

	got, _ := e.Get(ParamDHWSetTemperature)
	if got.Value != 45.0 {
		t.Errorf("value = %v, want rolled back to 45", got.Value)
	}
	if len(e.Pending()) != 0 {
		t.Error("pending write left behind")
	}
	if m := e.Metrics(); m.SetFailures != 1 || m.SetRetries != 2 {
		t.Errorf("Metrics() = %+v", m)
	}
	if !e.Session().Authenticated {
		t.Error("transport failures must not end the session")
	}

	if len(records) != 1 {
		t.Fatalf("records = %+v", records)
	}
	if r := records[0]; r.Status != SetFailed || r.Attempts != 3 || r.Old != 45.0 || r.New != 48.0 {
		t.Errorf("record = %+v", r)
	}
}

func TestSet_StaleWriteRefreshes(t *testing.T) {
	api := newMockAPI()
	e := dhwEngine(t, api)

	// The device changed to 50 behind our back.
	api.setValue("DhwTemp", 0, 50.0)
	api.queueWriteErr(&RequestFailedError{Endpoint: EndpointSetDHWTemp, Status: 409, Kind: ErrStaleWrite})

	results := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48})
	if !errors.Is(results[ParamDHWSetTemperature], ErrStaleWrite) {
		t.Fatalf("result = %v, want ErrStaleWrite", results[ParamDHWSetTemperature])
	}
	if n := len(api.getWrites()); n != 1 {
		t.Errorf("writes = %d, stale writes must not be retried", n)
	}

	got, _ := e.Get(ParamDHWSetTemperature)
	if got.Value != 50.0 {
		t.Errorf("value = %v, want refreshed 50", got.Value)
	}
}

func TestSet_AuthFailureInvalidatesSession(t *testing.T) {
	api := newMockAPI()
	e := dhwEngine(t, api)
	api.queueWriteErr(&RequestFailedError{Endpoint: EndpointSetDHWTemp, Status: 401, Kind: ErrAuthentication})

	results := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48})
	if !errors.Is(results[ParamDHWSetTemperature], ErrAuthentication) {
		t.Fatalf("result = %v, want ErrAuthentication", results[ParamDHWSetTemperature])
	}
	if n := len(api.getWrites()); n != 1 {
		t.Errorf("writes = %d, want 1", n)
	}
	if e.Session().Authenticated || e.Available() {
		t.Error("session should be invalidated after a rejected write")
	}
	if got, _ := e.Get(ParamDHWSetTemperature); got.Value != 45.0 {
		t.Errorf("value = %v, want rolled back to 45", got.Value)
	}
	if got, _ := e.Get(ParamOnline); got.Value != false {
		t.Errorf("online = %v, want false", got.Value)
	}

	// Further sets fail fast until the poller logs in again.
	results = e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48})
	if !errors.Is(results[ParamDHWSetTemperature], ErrAuthentication) {
		t.Errorf("second result = %v, want ErrAuthentication", results[ParamDHWSetTemperature])
	}
	if n := len(api.getWrites()); n != 1 {
		t.Errorf("writes = %d after unauthenticated set, want 1", n)
	}
}

func TestSet_ZonedFanOut(t *testing.T) {
	api := newMockAPI()
	for z := 1; z <= 3; z++ {
		api.setValue("ZoneMode", z, 2.0)
	}
	e := newTestEngine(t, api, []string{ParamCHMode}, 3)
	startEngine(t, e)

	results := e.Set(context.Background(), map[string]any{ParamCHMode: "Manual"})
	if len(results) != 1 {
		t.Errorf("results = %v, want one entry for the requested name", results)
	}
	if err := results.Err(); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	writes := api.getWrites()
	if len(writes) != 3 {
		t.Fatalf("writes = %d, want 3", len(writes))
	}
	zones := make([]int, 0, 3)
	for _, w := range writes {
		if w.Op != OpZoneMode || w.New != 1.0 || w.Old != 2.0 {
			t.Errorf("write = %+v", w)
		}
		zones = append(zones, w.Zone)
	}
	sort.Ints(zones)
	if zones[0] != 1 || zones[1] != 2 || zones[2] != 3 {
		t.Errorf("zones written = %v, want [1 2 3]", zones)
	}

	for z := 1; z <= 3; z++ {
		key := Key{Base: ParamCHMode, Zone: z}.String()
		if got, _ := e.Get(key); got.Value != 1.0 {
			t.Errorf("%s = %v, want 1", key, got.Value)
		}
	}
}

func TestSet_ZonedFanOutSkipsUnchangedZone(t *testing.T) {
	api := newMockAPI()
	api.setValue("ZoneMode", 1, 2.0)
	api.setValue("ZoneMode", 2, 1.0)
	e := newTestEngine(t, api, []string{ParamCHMode}, 2)
	startEngine(t, e)

	if err := e.Set(context.Background(), map[string]any{ParamCHMode: 1}).Err(); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	writes := api.getWrites()
	if len(writes) != 1 || writes[0].Zone != 1 {
		t.Errorf("writes = %+v, want only zone 1", writes)
	}
}

func TestSet_ZonedPartialFailure(t *testing.T) {
	api := newMockAPI()
	api.setValue("ZoneMode", 1, 2.0)
	api.setValue("ZoneMode", 2, 2.0)
	e := newTestEngine(t, api, []string{ParamCHMode}, 2)
	startEngine(t, e)

	api.mu.Lock()
	api.writeErrFn = func(w WriteRequest) error {
		if w.Zone == 2 {
			return &RequestFailedError{Endpoint: EndpointSetZoneMode, Status: 409, Kind: ErrStaleWrite}
		}
		return nil
	}
	api.mu.Unlock()

	err := e.Set(context.Background(), map[string]any{ParamCHMode: 1})[ParamCHMode]
	if !errors.Is(err, ErrStaleWrite) {
		t.Errorf("result = %v, want ErrStaleWrite from zone 2", err)
	}
	if n := len(api.getWrites()); n != 2 {
		t.Errorf("writes = %d, want 2", n)
	}
	if got, _ := e.Get("ch_mode_zone1"); got.Value != 1.0 {
		t.Errorf("ch_mode_zone1 = %v, want 1", got.Value)
	}
	if got, _ := e.Get("ch_mode_zone2"); got.Value != 2.0 {
		t.Errorf("ch_mode_zone2 = %v, want 2 after the stale write", got.Value)
	}
}

func TestSet_CombinedTemperatureWrite(t *testing.T) {
	api := newMockAPI()
	api.setValue("ZoneComfortTemp", 1, 21.0)
	api.setValue("ZoneEconomyTemp", 1, 18.0)
	e := newTestEngine(t, api, []string{ParamCHComfortTemperature, ParamCHEconomyTemperature}, 1)
	startEngine(t, e)

	if err := e.Set(context.Background(), map[string]any{"ch_comfort_temperature_zone1": 22}).Err(); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	writes := api.getWrites()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	w := writes[0]
	newFields, _ := w.New.(map[string]any)
	oldFields, _ := w.Old.(map[string]any)
	if w.Op != OpZoneTemperatures || w.Zone != 1 {
		t.Errorf("write = %+v", w)
	}
	if newFields[FieldZoneComfort] != 22.0 || newFields[FieldZoneEconomy] != 18.0 {
		t.Errorf("new = %v, want comf 22 econ 18", newFields)
	}
	if oldFields[FieldZoneComfort] != 21.0 || oldFields[FieldZoneEconomy] != 18.0 {
		t.Errorf("old = %v, want comf 21 econ 18", oldFields)
	}
}

func TestSet_BothFieldsInOneWrite(t *testing.T) {
	api := newMockAPI()
	api.setValue("ZoneComfortTemp", 1, 21.0)
	api.setValue("ZoneEconomyTemp", 1, 18.0)
	e := newTestEngine(t, api, []string{ParamCHComfortTemperature, ParamCHEconomyTemperature}, 1)
	startEngine(t, e)

	err := e.Set(context.Background(), map[string]any{
		"ch_comfort_temperature_zone1": 22,
		"ch_economy_temperature_zone1": 17,
	}).Err()
	if err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	writes := api.getWrites()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want a single combined write", len(writes))
	}
	newFields, _ := writes[0].New.(map[string]any)
	if newFields[FieldZoneComfort] != 22.0 || newFields[FieldZoneEconomy] != 17.0 {
		t.Errorf("new = %v", newFields)
	}
}

func TestSet_ConflictingChangesRejected(t *testing.T) {
	api := newMockAPI()
	api.setValue("ZoneDesiredTemp", 1, 21.0)
	api.setValue("ZoneComfortTemp", 1, 21.0)
	e := newTestEngine(t, api, []string{ParamCHSetTemperature, ParamCHComfortTemperature}, 1)
	startEngine(t, e)

	results := e.Set(context.Background(), map[string]any{
		"ch_set_temperature_zone1":     22,
		"ch_comfort_temperature_zone1": 23,
	})
	for name, err := range results {
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: error = %v, want ErrValidation", name, err)
		}
	}
	if n := len(api.getWrites()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
	if got, _ := e.Get("ch_comfort_temperature_zone1"); got.Value != 21.0 {
		t.Errorf("value changed by a rejected request: %v", got.Value)
	}
}

func TestSet_MenuParameter(t *testing.T) {
	api := newMockAPI()
	api.menu["U6_9_0"] = 0.0
	api.setValue("PlantMode", 0, 1.0)
	e := newTestEngine(t, api, []string{ParamMode, ParamCHAutoFunction}, 1)
	startEngine(t, e)

	if err := e.Set(context.Background(), map[string]any{ParamCHAutoFunction: "ON"}).Err(); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	writes := api.getWrites()
	if len(writes) != 1 || writes[0].Op != OpSubmitMenu {
		t.Fatalf("writes = %+v", writes)
	}
	items, _ := writes[0].New.([]MenuSubmit)
	if len(items) != 1 || items[0].ID != "U6_9_0" || items[0].NewValue != 1 || items[0].OldValue != 0 {
		t.Errorf("submit = %+v", items)
	}
}

func TestSet_Rejections(t *testing.T) {
	api := newMockAPI()
	api.setValue("DhwTemp", 0, 45.0)
	api.setValue("OutsideTemp", 0, 8.0)
	e := newTestEngine(t, api, []string{ParamDHWSetTemperature, ParamOutsideTemperature}, 1)
	startEngine(t, e)

	results := e.Set(context.Background(), map[string]any{
		"bogus":                      1,
		ParamOutsideTemperature:      10,
		ParamCHAntifreezeTemperature: 5,
		ParamDHWSetTemperature:       75,
	})

	want := map[string]error{
		"bogus":                      ErrUnknownParameter,
		ParamOutsideTemperature:      ErrReadOnly,
		ParamCHAntifreezeTemperature: ErrUnsupportedParameter,
		ParamDHWSetTemperature:       ErrValidation,
	}
	for name, wantErr := range want {
		if !errors.Is(results[name], wantErr) {
			t.Errorf("%s: error = %v, want %v", name, results[name], wantErr)
		}
	}
	if failed := results.Failed(); len(failed) != 4 {
		t.Errorf("Failed() = %v", failed)
	}
	if n := len(api.getWrites()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
	if got, _ := e.Get(ParamDHWSetTemperature); got.Value != 45.0 {
		t.Errorf("rejected value applied: %v", got.Value)
	}
}

func TestSet_PartialRequest(t *testing.T) {
	api := newMockAPI()
	e := dhwEngine(t, api)

	results := e.Set(context.Background(), map[string]any{
		ParamDHWSetTemperature: 48,
		"bogus":                1,
	})
	if results[ParamDHWSetTemperature] != nil {
		t.Errorf("valid change failed: %v", results[ParamDHWSetTemperature])
	}
	if !errors.Is(results["bogus"], ErrUnknownParameter) {
		t.Errorf("bogus: %v", results["bogus"])
	}
	if got, _ := e.Get(ParamDHWSetTemperature); got.Value != 48.0 {
		t.Errorf("value = %v, want 48", got.Value)
	}
	if m := e.Metrics(); m.SetFailures != 1 {
		t.Errorf("SetFailures = %d, want 1 for a partially failed request", m.SetFailures)
	}
}

func TestSet_NotRunning(t *testing.T) {
	api := newMockAPI()
	e := newTestEngine(t, api, []string{ParamDHWSetTemperature}, 1)

	results := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48})
	if !errors.Is(results[ParamDHWSetTemperature], ErrNotRunning) {
		t.Errorf("result = %v, want ErrNotRunning", results[ParamDHWSetTemperature])
	}
	if n := len(api.getWrites()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
}

func TestSet_Unauthenticated(t *testing.T) {
	api := newMockAPI()
	api.loginErr = &RequestFailedError{Endpoint: EndpointLogin, Status: 401, Kind: ErrAuthentication}
	e := newTestEngine(t, api, []string{ParamDHWSetTemperature}, 1)
	startEngine(t, e)

	results := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48})
	if !errors.Is(results[ParamDHWSetTemperature], ErrAuthentication) {
		t.Errorf("result = %v, want ErrAuthentication", results[ParamDHWSetTemperature])
	}
	if n := len(api.getWrites()); n != 0 {
		t.Errorf("writes = %d, want 0", n)
	}
}

func TestSet_SerialisedPerKey(t *testing.T) {
	api := newMockAPI()
	e := dhwEngine(t, api)

	var inFlight, maxInFlight atomic.Int32
	api.writeHook = func(WriteRequest) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
	}

	var wg sync.WaitGroup
	for _, v := range []int{48, 50} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: v}).Err(); err != nil {
				t.Errorf("Set(%d) error: %v", v, err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent writes for one key = %d, want 1", maxInFlight.Load())
	}
	writes := api.getWrites()
	if len(writes) != 2 {
		t.Fatalf("writes = %d, want 2", len(writes))
	}
	// The second write sees the first one's value as old.
	if writes[1].Old != writes[0].New {
		t.Errorf("second write old = %v, want %v", writes[1].Old, writes[0].New)
	}
	got, _ := e.Get(ParamDHWSetTemperature)
	if got.Value != writes[1].New {
		t.Errorf("final value = %v, want last write %v", got.Value, writes[1].New)
	}
}

func TestSet_StopWaitsForInFlight(t *testing.T) {
	api := newMockAPI()
	e := dhwEngine(t, api)

	entered := make(chan struct{})
	release := make(chan struct{})
	api.writeHook = func(WriteRequest) {
		close(entered)
		<-release
	}

	setDone := make(chan SetResults, 1)
	go func() {
		setDone <- e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48})
	}()
	<-entered

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()

	waitFor(t, func() bool { return e.State() == StateStopping })

	// New requests are refused while stopping.
	refused := e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 50})
	if !errors.Is(refused[ParamDHWSetTemperature], ErrNotRunning) {
		t.Errorf("set during stop = %v, want ErrNotRunning", refused[ParamDHWSetTemperature])
	}

	select {
	case <-stopped:
		t.Fatal("Stop() returned while a set was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := (<-setDone).Err(); err != nil {
		t.Errorf("in-flight set error: %v", err)
	}
	<-stopped

	if e.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", e.State())
	}
}

func TestSet_StopAbortsRetries(t *testing.T) {
	api := newMockAPI()
	api.setValue("DhwTemp", 0, 45.0)
	e, err := NewEngine(EngineOptions{
		API:            api,
		Username:       "u",
		Password:       "p",
		Parameters:     []string{ParamDHWSetTemperature},
		SetRetryDelay:  time.Hour,
		MaxSetRetries:  5,
		RequestTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	startEngine(t, e)

	api.queueWriteErr(transportErr(EndpointSetDHWTemp))
	setDone := make(chan SetResults, 1)
	go func() {
		setDone <- e.Set(context.Background(), map[string]any{ParamDHWSetTemperature: 48})
	}()
	waitFor(t, func() bool { return len(api.getWrites()) == 1 })

	e.Stop()

	results := <-setDone
	if !errors.Is(results[ParamDHWSetTemperature], ErrNotRunning) {
		t.Errorf("result = %v, want ErrNotRunning", results[ParamDHWSetTemperature])
	}
	if n := len(api.getWrites()); n != 1 {
		t.Errorf("writes = %d, no retry expected after stop", n)
	}
	if got, _ := e.Get(ParamDHWSetTemperature); got.Value != 45.0 {
		t.Errorf("value = %v, want rolled back to 45", got.Value)
	}
}

func TestSet_ObserverRecords(t *testing.T) {
	api := newMockAPI()
	e := dhwEngine(t, api)

	var mu sync.Mutex
	var records []SetRecord
	e.AddSetObserver(func(r SetRecord) {
		mu.Lock()
		records = append(records, r)
		mu.Unlock()
	})

	e.Submit(context.Background(), SetRequest{
		ID:      "cmd-1",
		Source:  SourceMQTT,
		Changes: map[string]any{ParamDHWSetTemperature: 48},
	})
	e.Submit(context.Background(), SetRequest{
		Source:  SourceAPI,
		Changes: map[string]any{ParamDHWSetTemperature: 48},
	})

	mu.Lock()
	defer mu.Unlock()
	if len(records) != 2 {
		t.Fatalf("records = %+v", records)
	}
	first := records[0]
	if first.RequestID != "cmd-1" || first.Source != SourceMQTT || first.Parameter != ParamDHWSetTemperature {
		t.Errorf("first record = %+v", first)
	}
	if first.Status != SetSucceeded || first.Attempts != 1 || first.Old != 45.0 || first.New != 48.0 {
		t.Errorf("first record outcome = %+v", first)
	}
	second := records[1]
	if second.Status != SetUnchanged || second.RequestID == "" {
		t.Errorf("second record = %+v, want unchanged with generated id", second)
	}
}

func TestSetResults(t *testing.T) {
	r := SetResults{
		"b": ErrValidation,
		"a": nil,
		"c": ErrTransport,
	}
	failed := r.Failed()
	if len(failed) != 2 || failed[0] != "b" || failed[1] != "c" {
		t.Errorf("Failed() = %v", failed)
	}
	err := r.Err()
	if !errors.Is(err, ErrValidation) || !errors.Is(err, ErrTransport) {
		t.Errorf("Err() = %v", err)
	}
	if (SetResults{"a": nil}).Err() != nil {
		t.Error("Err() should be nil when all succeed")
	}
}

func TestKeyLocker_OrderIndependent(t *testing.T) {
	l := keyLocker{locks: make(map[string]*sync.Mutex)}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unlock := l.lock([]string{"a", "b", "a"})
			unlock()
		}()
		go func() {
			defer wg.Done()
			unlock := l.lock([]string{"b", "a"})
			unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("lock ordering deadlocked")
	}
}

func TestWireValue(t *testing.T) {
	if wireValue(true) != 1 || wireValue(false) != 0 {
		t.Error("switch values should be sent as 1/0")
	}
	if wireValue(48.0) != 48.0 {
		t.Error("numbers should pass through")
	}
}

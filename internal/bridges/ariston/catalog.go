package ariston

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Kind describes the value type of a parameter.
type Kind string

const (
	KindNumber Kind = "number"
	KindEnum   Kind = "enum"
	KindSwitch Kind = "switch"
	KindText   Kind = "text"
)

// Dataset identifies the remote read operation that populates a parameter.
type Dataset string

const (
	DatasetMain        Dataset = "main"
	DatasetAdditional  Dataset = "additional"
	DatasetErrors      Dataset = "errors"
	DatasetCHSchedule  Dataset = "ch_schedule"
	DatasetDHWSchedule Dataset = "dhw_schedule"
	DatasetEnergy      Dataset = "energy"
	DatasetLastMonth   Dataset = "last_month"
	DatasetDerived     Dataset = "derived"
)

// WriteOp identifies the remote write operation for a parameter.
type WriteOp string

const (
	OpNone                WriteOp = ""
	OpPlantMode           WriteOp = "plant_mode"
	OpZoneMode            WriteOp = "zone_mode"
	OpDHWMode             WriteOp = "dhw_mode"
	OpZoneTemperatures    WriteOp = "zone_temperatures"
	OpDHWTemperature      WriteOp = "dhw_temperature"
	OpDHWProgTemperatures WriteOp = "dhw_prog_temperatures"
	OpSubmitMenu          WriteOp = "submit_menu"
)

// Payload field names used by the combined temperature write operations.
const (
	FieldZoneComfort    = "comf"
	FieldZoneEconomy    = "econ"
	FieldDHWProgComfort = "comfTemp"
	FieldDHWProgEconomy = "economyTemp"
)

// Parameter names.
const (
	ParamMode                    = "mode"
	ParamCHMode                  = "ch_mode"
	ParamCHSetTemperature        = "ch_set_temperature"
	ParamCHComfortTemperature    = "ch_comfort_temperature"
	ParamCHEconomyTemperature    = "ch_economy_temperature"
	ParamCHDetectedTemperature   = "ch_detected_temperature"
	ParamCHDerogaTemperature     = "ch_deroga_temperature"
	ParamCHPilot                 = "ch_pilot"
	ParamCHHeatingFlowTemp       = "ch_heating_flow_temp"
	ParamCHHeatingFlowOffset     = "ch_heating_flow_offset"
	ParamCHProgram               = "ch_program"
	ParamCHAutoFunction          = "ch_auto_function"
	ParamCHAntifreezeTemperature = "ch_antifreeze_temperature"
	ParamCHFlowTemperature       = "ch_flow_temperature"
	ParamDHWMode                 = "dhw_mode"
	ParamDHWSetTemperature       = "dhw_set_temperature"
	ParamDHWComfortTemperature   = "dhw_comfort_temperature"
	ParamDHWEconomyTemperature   = "dhw_economy_temperature"
	ParamDHWStorageTemperature   = "dhw_storage_temperature"
	ParamDHWProgram              = "dhw_program"
	ParamDHWComfortFunction      = "dhw_comfort_function"
	ParamThermalCleanseCycle     = "dhw_thermal_cleanse_cycle"
	ParamThermalCleanseFunction  = "dhw_thermal_cleanse_function"
	ParamOutsideTemperature      = "outside_temperature"
	ParamSignalStrength          = "signal_strength"
	ParamHeatPump                = "heat_pump"
	ParamHolidayMode             = "holiday_mode"
	ParamInternetTime            = "internet_time"
	ParamInternetWeather         = "internet_weather"
	ParamPressure                = "pressure"
	ParamErrorsCount             = "errors_count"
	ParamCHLastMonthElectricity  = "ch_electricity_last_month"
	ParamDHWLastMonthElectricity = "dhw_electricity_last_month"
	ParamHeatingToday            = "heating_today"
	ParamWaterToday              = "water_today"
	ParamOnline                  = "online"
	ParamChangingData            = "changing_data"
)

// Energy report periods, in the order the remote service reports them.
var energyPeriods = []string{"24h", "7d", "30d", "365d"}

// MaxZones is the highest zone index the remote service supports.
const MaxZones = 6

// Range is a continuous numeric bound.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`
}

// Option is one legal value of an enumerated parameter.
type Option struct {
	Value float64 `json:"value"`
	Text  string  `json:"text"`
}

// Descriptor is the static definition of one base parameter.
type Descriptor struct {
	Name    string
	Kind    Kind
	Zoned   bool
	Dataset Dataset

	// ItemID is the main data item identifier (DatasetMain only).
	ItemID string

	// MenuID is the plant menu identifier (DatasetAdditional only).
	MenuID string

	Write WriteOp
	Field string

	Units   string
	Range   *Range
	Options []Option
}

// Writable reports whether the parameter has a write operation.
func (d *Descriptor) Writable() bool {
	return d.Write != OpNone
}

var (
	plantModeOptions = []Option{
		{Value: 0, Text: "Summer"},
		{Value: 1, Text: "Winter"},
		{Value: 2, Text: "Heating only"},
		{Value: 5, Text: "OFF"},
	}

	zoneModeOptions = []Option{
		{Value: 0, Text: "OFF"},
		{Value: 1, Text: "Manual"},
		{Value: 2, Text: "Time program"},
	}

	dhwModeOptions = []Option{
		{Value: 0, Text: "Manual"},
		{Value: 1, Text: "Time program"},
	}

	dhwComfortFunctionOptions = []Option{
		{Value: 0, Text: "Disabled"},
		{Value: 1, Text: "Time based"},
		{Value: 2, Text: "Always active"},
	}
)

// descriptors is the static parameter table keyed by base name.
var descriptors = buildDescriptors()

func buildDescriptors() map[string]*Descriptor {
	list := []*Descriptor{
		{Name: ParamMode, Kind: KindEnum, Dataset: DatasetMain, ItemID: "PlantMode", Write: OpPlantMode, Options: plantModeOptions},
		{Name: ParamCHMode, Kind: KindEnum, Zoned: true, Dataset: DatasetMain, ItemID: "ZoneMode", Write: OpZoneMode, Options: zoneModeOptions},
		{Name: ParamCHSetTemperature, Kind: KindNumber, Zoned: true, Dataset: DatasetMain, ItemID: "ZoneDesiredTemp",
			Write: OpZoneTemperatures, Field: FieldZoneComfort, Units: "°C", Range: &Range{Min: 10, Max: 30, Step: 0.5}},
		{Name: ParamCHComfortTemperature, Kind: KindNumber, Zoned: true, Dataset: DatasetMain, ItemID: "ZoneComfortTemp",
			Write: OpZoneTemperatures, Field: FieldZoneComfort, Units: "°C", Range: &Range{Min: 10, Max: 30, Step: 0.5}},
		{Name: ParamCHEconomyTemperature, Kind: KindNumber, Zoned: true, Dataset: DatasetMain, ItemID: "ZoneEconomyTemp",
			Write: OpZoneTemperatures, Field: FieldZoneEconomy, Units: "°C", Range: &Range{Min: 10, Max: 30, Step: 0.5}},
		{Name: ParamCHDetectedTemperature, Kind: KindNumber, Zoned: true, Dataset: DatasetMain, ItemID: "ZoneMeasuredTemp", Units: "°C"},
		{Name: ParamCHDerogaTemperature, Kind: KindNumber, Zoned: true, Dataset: DatasetMain, ItemID: "ZoneDeroga", Units: "°C"},
		{Name: ParamCHPilot, Kind: KindSwitch, Zoned: true, Dataset: DatasetMain, ItemID: "ZoneHeatRequest"},
		{Name: ParamCHHeatingFlowTemp, Kind: KindNumber, Zoned: true, Dataset: DatasetMain, ItemID: "HeatingFlowTemp", Units: "°C"},
		{Name: ParamCHHeatingFlowOffset, Kind: KindNumber, Zoned: true, Dataset: DatasetMain, ItemID: "HeatingFlowOffset", Units: "°C"},
		{Name: ParamDHWMode, Kind: KindEnum, Dataset: DatasetMain, ItemID: "DhwMode", Write: OpDHWMode, Options: dhwModeOptions},
		{Name: ParamDHWSetTemperature, Kind: KindNumber, Dataset: DatasetMain, ItemID: "DhwTemp",
			Write: OpDHWTemperature, Units: "°C", Range: &Range{Min: 36, Max: 60, Step: 1}},
		{Name: ParamDHWComfortTemperature, Kind: KindNumber, Dataset: DatasetMain, ItemID: "DhwTimeProgComfortTemp",
			Write: OpDHWProgTemperatures, Field: FieldDHWProgComfort, Units: "°C", Range: &Range{Min: 36, Max: 60, Step: 1}},
		{Name: ParamDHWEconomyTemperature, Kind: KindNumber, Dataset: DatasetMain, ItemID: "DhwTimeProgEconomyTemp",
			Write: OpDHWProgTemperatures, Field: FieldDHWProgEconomy, Units: "°C", Range: &Range{Min: 36, Max: 60, Step: 1}},
		{Name: ParamDHWStorageTemperature, Kind: KindNumber, Dataset: DatasetMain, ItemID: "DhwStorageTemperature", Units: "°C"},
		{Name: ParamOutsideTemperature, Kind: KindNumber, Dataset: DatasetMain, ItemID: "OutsideTemp", Units: "°C"},
		{Name: ParamHeatPump, Kind: KindSwitch, Dataset: DatasetMain, ItemID: "HpOn"},
		{Name: ParamHolidayMode, Kind: KindSwitch, Dataset: DatasetMain, ItemID: "Holiday"},

		{Name: ParamCHAutoFunction, Kind: KindSwitch, Dataset: DatasetAdditional, MenuID: "U6_9_0", Write: OpSubmitMenu},
		{Name: ParamCHAntifreezeTemperature, Kind: KindNumber, Dataset: DatasetAdditional, MenuID: "U6_1_2",
			Write: OpSubmitMenu, Units: "°C", Range: &Range{Min: 2, Max: 15, Step: 1}},
		{Name: ParamCHFlowTemperature, Kind: KindNumber, Dataset: DatasetAdditional, MenuID: "U6_9_2", Units: "°C"},
		{Name: ParamDHWComfortFunction, Kind: KindEnum, Dataset: DatasetAdditional, MenuID: "U6_6_0", Write: OpSubmitMenu, Options: dhwComfortFunctionOptions},
		{Name: ParamThermalCleanseCycle, Kind: KindNumber, Dataset: DatasetAdditional, MenuID: "U6_7_1",
			Write: OpSubmitMenu, Units: "h", Range: &Range{Min: 1, Max: 15, Step: 1}},
		{Name: ParamThermalCleanseFunction, Kind: KindSwitch, Dataset: DatasetAdditional, MenuID: "U6_7_0", Write: OpSubmitMenu},
		{Name: ParamSignalStrength, Kind: KindNumber, Dataset: DatasetAdditional, MenuID: "U6_16_5", Units: "%"},
		{Name: ParamInternetTime, Kind: KindSwitch, Dataset: DatasetAdditional, MenuID: "U6_16_6", Write: OpSubmitMenu},
		{Name: ParamInternetWeather, Kind: KindSwitch, Dataset: DatasetAdditional, MenuID: "U6_16_7", Write: OpSubmitMenu},
		{Name: ParamPressure, Kind: KindNumber, Dataset: DatasetAdditional, MenuID: "U6_2_0", Units: "bar"},

		{Name: ParamErrorsCount, Kind: KindNumber, Dataset: DatasetErrors},
		{Name: ParamCHProgram, Kind: KindText, Dataset: DatasetCHSchedule},
		{Name: ParamDHWProgram, Kind: KindText, Dataset: DatasetDHWSchedule},
		{Name: ParamCHLastMonthElectricity, Kind: KindNumber, Dataset: DatasetLastMonth, Units: "kWh"},
		{Name: ParamDHWLastMonthElectricity, Kind: KindNumber, Dataset: DatasetLastMonth, Units: "kWh"},
		{Name: ParamHeatingToday, Kind: KindNumber, Dataset: DatasetEnergy, Units: "kWh"},
		{Name: ParamWaterToday, Kind: KindNumber, Dataset: DatasetEnergy, Units: "kWh"},

		{Name: ParamOnline, Kind: KindSwitch, Dataset: DatasetDerived},
		{Name: ParamChangingData, Kind: KindSwitch, Dataset: DatasetDerived},
	}

	for _, period := range energyPeriods {
		list = append(list,
			&Descriptor{Name: "heating_last_" + period, Kind: KindNumber, Dataset: DatasetEnergy, Units: "kWh"},
			&Descriptor{Name: "water_last_" + period, Kind: KindNumber, Dataset: DatasetEnergy, Units: "kWh"},
		)
	}

	m := make(map[string]*Descriptor, len(list))
	for _, d := range list {
		m[d.Name] = d
	}
	return m
}

// LookupDescriptor returns the descriptor for a base parameter name.
func LookupDescriptor(base string) (*Descriptor, bool) {
	d, ok := descriptors[base]
	return d, ok
}

// DefaultParameters is the parameter set monitored when none is configured.
var DefaultParameters = []string{
	ParamMode,
	ParamCHMode,
	ParamCHSetTemperature,
	ParamCHComfortTemperature,
	ParamCHEconomyTemperature,
	ParamCHDetectedTemperature,
	ParamDHWMode,
	ParamDHWSetTemperature,
	ParamDHWStorageTemperature,
	ParamOutsideTemperature,
	ParamErrorsCount,
	ParamCHProgram,
	ParamDHWProgram,
	ParamInternetTime,
	ParamInternetWeather,
	ParamHeatingLast("24h"),
	ParamWaterLast("24h"),
}

// ParamHeatingLast returns the heating energy parameter for a report period.
func ParamHeatingLast(period string) string { return "heating_last_" + period }

// ParamWaterLast returns the water energy parameter for a report period.
func ParamWaterLast(period string) string { return "water_last_" + period }

// Key identifies one cache entry. Zone is zero for non-zoned parameters.
type Key struct {
	Base string
	Zone int
}

// String returns "base" or "base_zoneN".
func (k Key) String() string {
	if k.Zone == 0 {
		return k.Base
	}
	return k.Base + "_zone" + strconv.Itoa(k.Zone)
}

const zoneSuffix = "_zone"

// WriteTarget tells the set pipeline how a key is written.
type WriteTarget struct {
	Op     WriteOp
	Zone   int
	Field  string
	MenuID string
}

// Catalog maps parameter names to keys, datasets and write targets and
// tracks which keys are active for this device.
//
// Thread Safety: All methods are safe for concurrent use.
type Catalog struct {
	zones int

	mu     sync.RWMutex
	active map[Key]struct{}
}

// NewCatalog builds the active set from the requested names. Each name may be
// a base name (zoned bases expand to every configured zone) or a single zoned
// key such as "ch_mode_zone2". Names the catalog does not know are returned
// as unknown and otherwise ignored. Derived parameters are always active.
func NewCatalog(requested []string, zones int) (*Catalog, []string) {
	if zones < 1 {
		zones = 1
	}
	if zones > MaxZones {
		zones = MaxZones
	}

	c := &Catalog{
		zones:  zones,
		active: make(map[Key]struct{}),
	}

	var unknown []string
	for _, name := range requested {
		keys, err := c.Resolve(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		for _, k := range keys {
			c.active[k] = struct{}{}
		}
	}

	c.active[Key{Base: ParamOnline}] = struct{}{}
	c.active[Key{Base: ParamChangingData}] = struct{}{}

	return c, unknown
}

// Zones returns the configured zone count.
func (c *Catalog) Zones() int {
	return c.zones
}

// Expand returns the keys for a base name: one per configured zone for zoned
// parameters, a single zone-less key otherwise.
func (c *Catalog) Expand(base string) []Key {
	d, ok := descriptors[base]
	if !ok {
		return nil
	}
	if !d.Zoned {
		return []Key{{Base: base}}
	}
	keys := make([]Key, 0, c.zones)
	for z := 1; z <= c.zones; z++ {
		keys = append(keys, Key{Base: base, Zone: z})
	}
	return keys
}

// ParseKey parses a cache key string into a Key. A zone suffix is only
// accepted on zoned parameters and must be within the configured zones.
func (c *Catalog) ParseKey(name string) (Key, error) {
	if d, ok := descriptors[name]; ok {
		if d.Zoned {
			return Key{}, fmt.Errorf("%w: %s requires a zone", ErrUnknownParameter, name)
		}
		return Key{Base: name}, nil
	}

	i := strings.LastIndex(name, zoneSuffix)
	if i <= 0 {
		return Key{}, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	base := name[:i]
	d, ok := descriptors[base]
	if !ok || !d.Zoned {
		return Key{}, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	zone, err := strconv.Atoi(name[i+len(zoneSuffix):])
	if err != nil || zone < 1 || zone > c.zones {
		return Key{}, fmt.Errorf("%w: %s: zone out of range 1..%d", ErrUnknownParameter, name, c.zones)
	}
	return Key{Base: base, Zone: zone}, nil
}

// Resolve maps a caller-supplied name to keys. A bare zoned base name fans
// out to every configured zone.
func (c *Catalog) Resolve(name string) ([]Key, error) {
	if d, ok := descriptors[name]; ok && d.Zoned {
		return c.Expand(name), nil
	}
	k, err := c.ParseKey(name)
	if err != nil {
		return nil, err
	}
	return []Key{k}, nil
}

// Descriptor returns the descriptor for a key.
func (c *Catalog) Descriptor(k Key) (*Descriptor, error) {
	d, ok := descriptors[k.Base]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, k)
	}
	return d, nil
}

// ResolveWriteTarget returns the write operation for a key.
func (c *Catalog) ResolveWriteTarget(k Key) (WriteTarget, error) {
	d, err := c.Descriptor(k)
	if err != nil {
		return WriteTarget{}, err
	}
	if !d.Writable() {
		return WriteTarget{}, fmt.Errorf("%w: %s", ErrReadOnly, k)
	}
	return WriteTarget{Op: d.Write, Zone: k.Zone, Field: d.Field, MenuID: d.MenuID}, nil
}

// Active reports whether a key is in the active set.
func (c *Catalog) Active(k Key) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.active[k]
	return ok
}

// Deactivate removes a key from the active set. It returns false if the key
// was not active.
func (c *Catalog) Deactivate(k Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[k]; !ok {
		return false
	}
	delete(c.active, k)
	return true
}

// ActiveKeys returns the active keys in stable order.
func (c *Catalog) ActiveKeys() []Key {
	c.mu.RLock()
	keys := make([]Key, 0, len(c.active))
	for k := range c.active {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sortKeys(keys)
	return keys
}

// ActiveIn returns the active keys populated by a dataset, in stable order.
func (c *Catalog) ActiveIn(ds Dataset) []Key {
	var keys []Key
	for _, k := range c.ActiveKeys() {
		if descriptors[k.Base].Dataset == ds {
			keys = append(keys, k)
		}
	}
	return keys
}

// ApplyFeatures deactivates keys the plant cannot serve: domestic hot water
// parameters on plants without DHW, and zones the plant does not report.
// It returns the deactivated keys.
func (c *Catalog) ApplyFeatures(f PlantFeatures) []Key {
	zones := make(map[int]bool, len(f.Zones))
	for _, z := range f.Zones {
		zones[z.Num] = true
	}

	var removed []Key
	for _, k := range c.ActiveKeys() {
		drop := false
		if !f.HasDHW && isDHWParameter(k.Base) {
			drop = true
		}
		if k.Zone > 0 && len(zones) > 0 && !zones[k.Zone] {
			drop = true
		}
		if drop && c.Deactivate(k) {
			removed = append(removed, k)
		}
	}
	return removed
}

func isDHWParameter(base string) bool {
	return strings.HasPrefix(base, "dhw_") || strings.HasPrefix(base, "water_")
}

// Validate checks a requested value for a key and returns it normalised to
// the cache representation: float64 for numbers and enums, bool for switches.
// Bounds come from the cached entry when present, otherwise from the
// descriptor defaults.
func (c *Catalog) Validate(k Key, value any, current *Entry) (any, error) {
	d, err := c.Descriptor(k)
	if err != nil {
		return nil, err
	}

	rng := d.Range
	opts := d.Options
	if current != nil {
		if current.Range != nil {
			rng = current.Range
		}
		if len(current.Options) > 0 {
			opts = current.Options
		}
	}

	switch d.Kind {
	case KindNumber:
		f, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s: %v is not a number", ErrValidation, k, value)
		}
		if rng != nil && (f < rng.Min || f > rng.Max) {
			return nil, fmt.Errorf("%w: %s: %v outside %v..%v", ErrValidation, k, f, rng.Min, rng.Max)
		}
		if rng != nil && !onStep(f, rng) {
			return nil, fmt.Errorf("%w: %s: %v is not a multiple of %v from %v", ErrValidation, k, f, rng.Step, rng.Min)
		}
		return f, nil

	case KindEnum:
		f, ok := matchOption(opts, value)
		if !ok {
			return nil, fmt.Errorf("%w: %s: %v is not a valid option", ErrValidation, k, value)
		}
		return f, nil

	case KindSwitch:
		b, ok := toBool(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s: %v is not on/off", ErrValidation, k, value)
		}
		return b, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, k)
	}
}

// onStep reports whether f lies on the range's step grid. A zero step
// allows any value.
func onStep(f float64, rng *Range) bool {
	if rng.Step <= 0 {
		return true
	}
	n := (f - rng.Min) / rng.Step
	return math.Abs(n-math.Round(n)) < 1e-6
}

// matchOption accepts an option value or its display text.
func matchOption(opts []Option, value any) (float64, bool) {
	if f, ok := toFloat(value); ok {
		for _, o := range opts {
			if o.Value == f {
				return f, true
			}
		}
		return 0, false
	}
	if s, ok := value.(string); ok {
		for _, o := range opts {
			if strings.EqualFold(o.Text, strings.TrimSpace(s)) {
				return o.Value, true
			}
		}
	}
	return 0, false
}

// toFloat converts JSON-ish numeric values to float64. Numeric strings are
// accepted since MQTT and form inputs often carry them. NaN and infinities
// are rejected whatever their source.
func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint8:
		f = float64(n)
	case interface{ Float64() (float64, error) }:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToUpper(strings.TrimSpace(b)) {
		case "ON", "TRUE", "1":
			return true, true
		case "OFF", "FALSE", "0":
			return false, true
		}
		return false, false
	default:
		f, ok := toFloat(v)
		if !ok || (f != 0 && f != 1) {
			return false, false
		}
		return f == 1, true
	}
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Base != keys[j].Base {
			return keys[i].Base < keys[j].Base
		}
		return keys[i].Zone < keys[j].Zone
	})
}

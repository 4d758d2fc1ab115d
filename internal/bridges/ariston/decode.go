package ariston

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type itemIndex struct {
	id   string
	zone int
}

// decodeMain maps main data items onto the requested keys. Requested keys
// with no matching item are returned as missing.
func decodeMain(items []DataItem, keys []Key) (map[string]*Entry, []Key) {
	byRef := make(map[itemIndex]DataItem, len(items))
	for _, it := range items {
		byRef[itemIndex{id: it.ID, zone: it.Zone}] = it
	}

	out := make(map[string]*Entry, len(keys))
	var missing []Key
	for _, k := range keys {
		d := descriptors[k.Base]
		it, ok := byRef[itemIndex{id: d.ItemID, zone: k.Zone}]
		if !ok {
			missing = append(missing, k)
			continue
		}
		out[k.String()] = buildEntry(d, it.Value, it.Unit, it.Min, it.Max, it.Step, it.Options, it.OptTexts)
	}
	return out, missing
}

// decodeMenu maps plant menu items onto the requested keys.
func decodeMenu(items []MenuItem, keys []Key) (map[string]*Entry, []Key) {
	byID := make(map[string]MenuItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	out := make(map[string]*Entry, len(keys))
	var missing []Key
	for _, k := range keys {
		d := descriptors[k.Base]
		it, ok := byID[d.MenuID]
		if !ok {
			missing = append(missing, k)
			continue
		}
		out[k.String()] = buildEntry(d, it.Value, it.Unit, it.Min, it.Max, it.Step, it.Options, it.OptionTexts)
	}
	return out, missing
}

// buildEntry converts a raw remote value into a cache entry for d. Options
// reported by the service take precedence over the static ones; a range is
// only attached to numeric parameters without options.
func buildEntry(d *Descriptor, raw any, unit string, lo, hi, step *float64, opts []float64, texts []string) *Entry {
	e := &Entry{
		Value: convertValue(d.Kind, raw),
		Units: unit,
	}
	if e.Units == "" {
		e.Units = d.Units
	}

	if d.Kind == KindEnum {
		if len(opts) > 0 {
			e.Options = make([]Option, len(opts))
			for i, v := range opts {
				text := strconv.FormatFloat(v, 'f', -1, 64)
				if i < len(texts) && texts[i] != "" {
					text = texts[i]
				}
				e.Options[i] = Option{Value: v, Text: text}
			}
		} else if len(d.Options) > 0 {
			e.Options = append([]Option(nil), d.Options...)
		}
		return e
	}

	if d.Kind == KindNumber {
		switch {
		case lo != nil && hi != nil:
			r := &Range{Min: *lo, Max: *hi}
			if step != nil {
				r.Step = *step
			}
			e.Range = r
		case d.Range != nil:
			r := *d.Range
			e.Range = &r
		}
	}
	return e
}

func convertValue(kind Kind, raw any) any {
	if raw == nil {
		return nil
	}
	switch kind {
	case KindNumber, KindEnum:
		if f, ok := toFloat(raw); ok {
			return f
		}
		return nil
	case KindSwitch:
		if b, ok := toBool(raw); ok {
			return b
		}
		return nil
	default:
		return fmt.Sprint(raw)
	}
}

// decodeErrors builds the errors_count entry with one attribute per fault.
func decodeErrors(errs []BusError) map[string]*Entry {
	e := &Entry{Value: float64(len(errs))}
	for _, be := range errs {
		code := be.Code
		if code == "" {
			code = "E" + strconv.Itoa(be.Fault)
		}
		desc := be.Description
		if be.Timestamp != "" {
			desc = fmt.Sprintf("%s (%s)", desc, be.Timestamp)
		}
		e.Attributes = append(e.Attributes, Attribute{Key: code, Value: desc})
	}
	return map[string]*Entry{ParamErrorsCount: e}
}

var scheduleDays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// decodeSchedule builds a program entry whose value is the slice active at
// now and whose attributes list each weekday's slices.
func decodeSchedule(param string, s Schedule, now time.Time) map[string]*Entry {
	e := &Entry{}
	for _, day := range scheduleDays {
		slices := slicesFor(s, day)
		parts := make([]string, 0, len(slices))
		for _, sl := range slices {
			parts = append(parts, fmt.Sprintf("%02d:%02d %s", sl.From/60, sl.From%60, sliceLabel(sl.Temp)))
		}
		e.Attributes = append(e.Attributes, Attribute{Key: day.String(), Value: strings.Join(parts, ", ")})
	}

	minutes := now.Hour()*60 + now.Minute()
	for _, sl := range slicesFor(s, now.Weekday()) {
		if sl.From <= minutes {
			e.Value = sliceLabel(sl.Temp)
		}
	}
	return map[string]*Entry{param: e}
}

func slicesFor(s Schedule, day time.Weekday) []ScheduleSlice {
	for _, p := range s.Plans {
		for _, d := range p.Days {
			if d == int(day) {
				return p.Slices
			}
		}
	}
	return nil
}

func sliceLabel(temp int) string {
	if temp == 1 {
		return "Comfort"
	}
	return "Economy"
}

// decodeEnergy builds the per-period consumption entries. The value is the
// period total and the "values" attribute holds the series. Today's figure
// is the last daily bucket of the 7 day series.
func decodeEnergy(seqs []EnergySequence) map[string]*Entry {
	out := make(map[string]*Entry)
	for _, s := range seqs {
		var prefix, today string
		switch s.Kind {
		case usageHeating:
			prefix, today = "heating_last_", ParamHeatingToday
		case usageWater:
			prefix, today = "water_last_", ParamWaterToday
		default:
			continue
		}
		if s.Period < period24h || s.Period > period365d {
			continue
		}

		total := 0.0
		for _, v := range s.Values {
			total += v
		}
		out[prefix+energyPeriods[s.Period-1]] = &Entry{
			Value:      total,
			Units:      "kWh",
			Attributes: []Attribute{{Key: "values", Value: append([]float64(nil), s.Values...)}},
		}
		if s.Period == period7d && len(s.Values) > 0 {
			out[today] = &Entry{Value: s.Values[len(s.Values)-1], Units: "kWh"}
		}
	}
	return out
}

// decodeLastMonth builds the previous month electricity entries.
func decodeLastMonth(items []LastMonthItem) map[string]*Entry {
	out := make(map[string]*Entry)
	for _, it := range items {
		var param string
		switch it.Usage {
		case usageHeating:
			param = ParamCHLastMonthElectricity
		case usageWater:
			param = ParamDHWLastMonthElectricity
		default:
			continue
		}
		out[param] = &Entry{
			Value:      it.Electricity,
			Units:      "kWh",
			Attributes: []Attribute{{Key: "gas", Value: it.Gas}},
		}
	}
	return out
}

// filterActive drops entries whose key is not in the catalog's active set.
func filterActive(cat *Catalog, entries map[string]*Entry) map[string]*Entry {
	for k := range entries {
		key, err := cat.ParseKey(k)
		if err != nil || !cat.Active(key) {
			delete(entries, k)
		}
	}
	return entries
}

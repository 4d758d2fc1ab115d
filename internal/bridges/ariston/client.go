package ariston

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the vendor service root.
const DefaultBaseURL = "https://www.ariston-net.remotethermo.com"

// Per-operation timeouts. Each is further capped by the configured request
// timeout.
const (
	timeoutShort   = 5 * time.Second
	timeoutAverage = 15 * time.Second
	timeoutLong    = 25 * time.Second

	// maxErrorBody bounds how much of a failed response body is logged.
	maxErrorBody = 512
)

// Endpoint names reported in RequestFailedError.
const (
	EndpointLogin            = "login"
	EndpointLogout           = "logout"
	EndpointGateways         = "gateways"
	EndpointFeatures         = "features"
	EndpointMainData         = "main_data"
	EndpointErrors           = "errors"
	EndpointCHSchedule       = "ch_schedule"
	EndpointDHWSchedule      = "dhw_schedule"
	EndpointAdditional       = "additional_params"
	EndpointLastMonth        = "last_month"
	EndpointEnergy           = "energy"
	EndpointSetPlantMode     = "set_plant_mode"
	EndpointSetZoneMode      = "set_zone_mode"
	EndpointSetDHWMode       = "set_dhw_mode"
	EndpointSetZoneTemps     = "set_zone_temperatures"
	EndpointSetDHWTemp       = "set_dhw_temperature"
	EndpointSetDHWProgTemps  = "set_dhw_prog_temperatures"
	EndpointSubmitAdditional = "submit_additional_params"
)

// RemoteAPI is the set of vendor operations the engine uses.
// *Client implements it; tests substitute a fake.
type RemoteAPI interface {
	Login(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
	Gateways(ctx context.Context) ([]string, error)
	PlantFeatures(ctx context.Context, plantID string) (PlantFeatures, error)
	MainData(ctx context.Context, plantID string, req MainDataRequest) ([]DataItem, error)
	Errors(ctx context.Context, plantID string) ([]BusError, error)
	CHSchedule(ctx context.Context, plantID string) (Schedule, error)
	DHWSchedule(ctx context.Context, plantID string) (Schedule, error)
	AdditionalParams(ctx context.Context, plantID string, ids []string) ([]MenuItem, error)
	LastMonth(ctx context.Context, plantID string) ([]LastMonthItem, error)
	Energy(ctx context.Context, plantID string) ([]EnergySequence, error)
	Write(ctx context.Context, plantID string, w WriteRequest) error
}

// PlantFeatures describes the capabilities of one plant.
type PlantFeatures struct {
	Zones            []ZoneFeature `json:"zones"`
	HasDHW           bool          `json:"hasDhw"`
	DHWProgSupported bool          `json:"dhwProgSupported"`
	HasMetering      bool          `json:"hasMetering"`

	// Raw is the features document as received; main data requests echo it.
	Raw json.RawMessage `json:"-"`
}

// ZoneFeature is one heating zone reported by the plant.
type ZoneFeature struct {
	Num  int    `json:"num"`
	Name string `json:"name,omitempty"`
}

// ItemRef selects one main data item.
type ItemRef struct {
	ID   string `json:"id"`
	Zone int    `json:"zn"`
}

// MainDataRequest is the body of a main data read.
type MainDataRequest struct {
	UseCache bool            `json:"useCache"`
	Items    []ItemRef       `json:"items"`
	Features json.RawMessage `json:"features,omitempty"`
}

// DataItem is one main data value as reported by the remote service.
type DataItem struct {
	ID       string    `json:"id"`
	Zone     int       `json:"zn"`
	Value    any       `json:"value"`
	Unit     string    `json:"unit,omitempty"`
	Min      *float64  `json:"min,omitempty"`
	Max      *float64  `json:"max,omitempty"`
	Step     *float64  `json:"step,omitempty"`
	Options  []float64 `json:"options,omitempty"`
	OptTexts []string  `json:"optTexts,omitempty"`
}

type mainDataResponse struct {
	Items []DataItem `json:"items"`
}

// BusError is one fault reported by the appliance.
type BusError struct {
	Timestamp   string `json:"timestamp"`
	Fault       int    `json:"fault"`
	Code        string `json:"code"`
	Description string `json:"errDex"`
	Priority    int    `json:"pri"`
	Resettable  bool   `json:"res"`
	Blocking    bool   `json:"blk"`
}

// Schedule is a weekly time program.
type Schedule struct {
	Plans []SchedulePlan `json:"plans"`
}

// SchedulePlan applies a list of slices to a set of weekdays (0 = Sunday).
type SchedulePlan struct {
	Days   []int           `json:"days"`
	Slices []ScheduleSlice `json:"slices"`
}

// ScheduleSlice starts at From minutes after midnight. Temp is 0 for
// economy and 1 for comfort.
type ScheduleSlice struct {
	From int `json:"from"`
	Temp int `json:"temp"`
}

// MenuItem is one additional (plant menu) parameter.
type MenuItem struct {
	ID          string    `json:"id"`
	Value       any       `json:"value"`
	Unit        string    `json:"unit,omitempty"`
	Min         *float64  `json:"min,omitempty"`
	Max         *float64  `json:"max,omitempty"`
	Step        *float64  `json:"step,omitempty"`
	Options     []float64 `json:"options,omitempty"`
	OptionTexts []string  `json:"optionTexts,omitempty"`
}

type menuRefreshResponse struct {
	OK   bool       `json:"ok"`
	Data []MenuItem `json:"data"`
}

// MenuSubmit is one entry of an additional parameters submit.
type MenuSubmit struct {
	ID       string `json:"id"`
	NewValue any    `json:"newValue"`
	OldValue any    `json:"oldValue"`
}

// LastMonthItem is the previous month's consumption for one usage.
type LastMonthItem struct {
	Usage       int     `json:"enType"`
	Electricity float64 `json:"elect"`
	Gas         float64 `json:"gas"`
}

// EnergySequence is a consumption series for one usage and period.
type EnergySequence struct {
	Kind   int       `json:"k"`
	Period int       `json:"p"`
	Values []float64 `json:"v"`
}

// Energy usage and period codes.
const (
	usageHeating = 1
	usageWater   = 2

	period24h  = 1
	period7d   = 2
	period30d  = 3
	period365d = 4
)

// WriteRequest is one compare-and-swap write. New and Old are the wire
// payloads; for OpSubmitMenu New is a []MenuSubmit and Old is unused.
type WriteRequest struct {
	Op   WriteOp
	Zone int
	New  any
	Old  any
}

type casPayload struct {
	New any `json:"new"`
	Old any `json:"old"`
}

// Client talks to the vendor service over HTTPS with a cookie session.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxTimeout time.Duration

	logger   Logger
	loggerMu sync.RWMutex
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL overrides DefaultBaseURL (used by tests).
	BaseURL string

	// RequestTimeout caps every operation's timeout. Zero keeps the
	// per-operation defaults.
	RequestTimeout time.Duration

	// HTTPClient is optional. A cookie jar is attached if it has none.
	HTTPClient *http.Client

	// Logger is optional.
	Logger Logger
}

// NewClient creates a client with an empty cookie session.
func NewClient(opts ClientOptions) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	hc := &http.Client{Jar: jar}
	if opts.HTTPClient != nil {
		clone := *opts.HTTPClient
		if clone.Jar == nil {
			clone.Jar = jar
		}
		hc = &clone
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	return &Client{
		baseURL:    base,
		httpClient: hc,
		maxTimeout: opts.RequestTimeout,
		logger:     opts.Logger,
	}, nil
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Login authenticates and stores the session cookie.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]any{
		"email":      username,
		"password":   password,
		"rememberMe": false,
		"language":   "English_Us",
	}
	return c.do(ctx, classLogin, EndpointLogin, http.MethodPost, "/R2/Account/Login", body, nil, timeoutShort)
}

// Logout ends the remote session.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, classRead, EndpointLogout, http.MethodGet, "/R2/Account/Logout", nil, nil, timeoutShort)
}

// Gateways lists the gateway identifiers on the account.
func (c *Client) Gateways(ctx context.Context) ([]string, error) {
	var out []struct {
		GatewayID string `json:"gwId"`
	}
	if err := c.do(ctx, classRead, EndpointGateways, http.MethodGet, "/api/v2/remote/plants/lite", nil, &out, timeoutShort); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out))
	for _, g := range out {
		if g.GatewayID != "" {
			ids = append(ids, g.GatewayID)
		}
	}
	return ids, nil
}

// PlantFeatures fetches the capabilities of a plant.
func (c *Client) PlantFeatures(ctx context.Context, plantID string) (PlantFeatures, error) {
	var raw json.RawMessage
	path := "/api/v2/remote/plants/" + url.PathEscape(plantID) + "/features?eagerMode=True"
	if err := c.do(ctx, classRead, EndpointFeatures, http.MethodGet, path, nil, &raw, timeoutShort); err != nil {
		return PlantFeatures{}, err
	}
	var f PlantFeatures
	if err := json.Unmarshal(raw, &f); err != nil {
		return PlantFeatures{}, &RequestFailedError{Endpoint: EndpointFeatures, Kind: ErrTransport, Err: fmt.Errorf("decoding features: %w", err)}
	}
	f.Raw = raw
	return f, nil
}

// MainData reads the requested main data items.
func (c *Client) MainData(ctx context.Context, plantID string, req MainDataRequest) ([]DataItem, error) {
	var out mainDataResponse
	path := "/api/v2/remote/dataItems/" + url.PathEscape(plantID) + "/get?umsys=si"
	if err := c.do(ctx, classRead, EndpointMainData, http.MethodPost, path, req, &out, timeoutLong); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Errors reads the active appliance faults.
func (c *Client) Errors(ctx context.Context, plantID string) ([]BusError, error) {
	var out []BusError
	path := "/api/v2/busErrors?gatewayId=" + url.QueryEscape(plantID) + "&blockingOnly=False&culture=en-US"
	if err := c.do(ctx, classRead, EndpointErrors, http.MethodGet, path, nil, &out, timeoutAverage); err != nil {
		return nil, err
	}
	return out, nil
}

// CHSchedule reads the central heating time program of zone 1.
func (c *Client) CHSchedule(ctx context.Context, plantID string) (Schedule, error) {
	var out Schedule
	path := "/api/v2/remote/timeProgs/" + url.PathEscape(plantID) + "/ChZn1?umsys=si"
	err := c.do(ctx, classRead, EndpointCHSchedule, http.MethodGet, path, nil, &out, timeoutAverage)
	return out, err
}

// DHWSchedule reads the domestic hot water time program.
func (c *Client) DHWSchedule(ctx context.Context, plantID string) (Schedule, error) {
	var out Schedule
	path := "/api/v2/remote/timeProgs/" + url.PathEscape(plantID) + "/Dhw?umsys=si"
	err := c.do(ctx, classRead, EndpointDHWSchedule, http.MethodGet, path, nil, &out, timeoutAverage)
	return out, err
}

// AdditionalParams reads plant menu parameters. A 500 reply means at least
// one id is unsupported and is reported as ErrUnsupportedParameter.
func (c *Client) AdditionalParams(ctx context.Context, plantID string, ids []string) ([]MenuItem, error) {
	var out menuRefreshResponse
	path := "/R2/PlantMenu/Refresh?id=" + url.QueryEscape(plantID) + "&paramIds=" + url.QueryEscape(strings.Join(ids, ","))
	if err := c.do(ctx, classAdditionalRead, EndpointAdditional, http.MethodGet, path, nil, &out, timeoutAverage); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// LastMonth reads the previous month's energy account.
func (c *Client) LastMonth(ctx context.Context, plantID string) ([]LastMonthItem, error) {
	var out struct {
		LastMonth []LastMonthItem `json:"LastMonth"`
	}
	path := "/api/v2/remote/reports/" + url.PathEscape(plantID) + "/energyAccount"
	if err := c.do(ctx, classRead, EndpointLastMonth, http.MethodGet, path, nil, &out, timeoutAverage); err != nil {
		return nil, err
	}
	return out.LastMonth, nil
}

// Energy reads consumption sequences for heating and hot water.
func (c *Client) Energy(ctx context.Context, plantID string) ([]EnergySequence, error) {
	var out []EnergySequence
	path := "/api/v2/remote/reports/" + url.PathEscape(plantID) + "/consSequencesApi8?usages=Ch%2CDhw&hasSlp=False"
	if err := c.do(ctx, classRead, EndpointEnergy, http.MethodGet, path, nil, &out, timeoutAverage); err != nil {
		return nil, err
	}
	return out, nil
}

// SetPlantMode writes the plant mode.
func (c *Client) SetPlantMode(ctx context.Context, plantID string, newValue, oldValue any) error {
	path := "/api/v2/remote/plantData/" + url.PathEscape(plantID) + "/mode"
	return c.write(ctx, EndpointSetPlantMode, path, casPayload{New: newValue, Old: oldValue})
}

// SetZoneMode writes the heating mode of one zone.
func (c *Client) SetZoneMode(ctx context.Context, plantID string, zone int, newValue, oldValue any) error {
	path := "/api/v2/remote/zones/" + url.PathEscape(plantID) + "/" + strconv.Itoa(zone) + "/mode"
	return c.write(ctx, EndpointSetZoneMode, path, casPayload{New: newValue, Old: oldValue})
}

// SetDHWMode writes the hot water mode.
func (c *Client) SetDHWMode(ctx context.Context, plantID string, newValue, oldValue any) error {
	path := "/api/v2/remote/plantData/" + url.PathEscape(plantID) + "/dhwMode"
	return c.write(ctx, EndpointSetDHWMode, path, casPayload{New: newValue, Old: oldValue})
}

// SetZoneTemperatures writes the comfort and economy setpoints of one zone.
func (c *Client) SetZoneTemperatures(ctx context.Context, plantID string, zone int, newValue, oldValue any) error {
	path := "/api/v2/remote/zones/" + url.PathEscape(plantID) + "/" + strconv.Itoa(zone) + "/temperatures?umsys=si"
	return c.write(ctx, EndpointSetZoneTemps, path, casPayload{New: newValue, Old: oldValue})
}

// SetDHWTemperature writes the hot water setpoint.
func (c *Client) SetDHWTemperature(ctx context.Context, plantID string, newValue, oldValue any) error {
	path := "/api/v2/remote/plantData/" + url.PathEscape(plantID) + "/dhwTemp?umsys=si"
	return c.write(ctx, EndpointSetDHWTemp, path, casPayload{New: newValue, Old: oldValue})
}

// SetDHWProgTemperatures writes the hot water time program setpoints.
func (c *Client) SetDHWProgTemperatures(ctx context.Context, plantID string, newValue, oldValue any) error {
	path := "/api/v2/remote/plantData/" + url.PathEscape(plantID) + "/dhwTimeProgTemperatures?umsys=si"
	return c.write(ctx, EndpointSetDHWProgTemps, path, casPayload{New: newValue, Old: oldValue})
}

// SubmitAdditionalParams writes plant menu parameters.
func (c *Client) SubmitAdditionalParams(ctx context.Context, plantID string, items []MenuSubmit) error {
	path := "/R2/PlantMenu/Submit/" + url.PathEscape(plantID)
	return c.write(ctx, EndpointSubmitAdditional, path, items)
}

// Write dispatches a WriteRequest to its operation.
func (c *Client) Write(ctx context.Context, plantID string, w WriteRequest) error {
	switch w.Op {
	case OpPlantMode:
		return c.SetPlantMode(ctx, plantID, w.New, w.Old)
	case OpZoneMode:
		return c.SetZoneMode(ctx, plantID, w.Zone, w.New, w.Old)
	case OpDHWMode:
		return c.SetDHWMode(ctx, plantID, w.New, w.Old)
	case OpZoneTemperatures:
		return c.SetZoneTemperatures(ctx, plantID, w.Zone, w.New, w.Old)
	case OpDHWTemperature:
		return c.SetDHWTemperature(ctx, plantID, w.New, w.Old)
	case OpDHWProgTemperatures:
		return c.SetDHWProgTemperatures(ctx, plantID, w.New, w.Old)
	case OpSubmitMenu:
		items, ok := w.New.([]MenuSubmit)
		if !ok {
			return fmt.Errorf("%w: submit payload must be []MenuSubmit", ErrValidation)
		}
		return c.SubmitAdditionalParams(ctx, plantID, items)
	default:
		return fmt.Errorf("%w: no write operation %q", ErrReadOnly, w.Op)
	}
}

func (c *Client) write(ctx context.Context, endpoint, path string, body any) error {
	return c.do(ctx, classWrite, endpoint, http.MethodPost, path, body, nil, timeoutAverage)
}

// do performs one request and classifies any failure.
func (c *Client) do(ctx context.Context, class endpointClass, endpoint, method, path string, in, out any, timeout time.Duration) error {
	if c.maxTimeout > 0 && timeout > c.maxTimeout {
		timeout = c.maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", endpoint, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &RequestFailedError{Endpoint: endpoint, Kind: ErrTransport, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestFailedError{Endpoint: endpoint, Kind: ErrTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		kind := classifyStatus(class, resp.StatusCode)
		// An unsupported menu id makes the service answer 500 with an HTML
		// page; that body is expected and not worth logging.
		if kind != ErrUnsupportedParameter || class != classAdditionalRead {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // diagnostic only
			c.logDebug("remote request failed",
				"endpoint", endpoint,
				"status", resp.StatusCode,
				"body", string(snippet))
		}
		return &RequestFailedError{Endpoint: endpoint, Status: resp.StatusCode, Kind: kind}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestFailedError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Kind:     ErrTransport,
			Err:      fmt.Errorf("decoding response: %w", err),
		}
	}
	return nil
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

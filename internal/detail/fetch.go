package detail

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/rollcall/internal/roster"
)

// PlayerPlaceholder is replaced by the player id in a URL template.
const PlayerPlaceholder = "{player_id}"

// Details are the per-player statistics the detail endpoint reports.
// Nil fields were absent from the payload.
type Details struct {
	Power             *int64
	MaxPower          *int64
	PowerDestroyed    *int64
	ArenaRating       *int64
	MissionsCompleted *int64
	ResourcesMined    *int64
	AllianceHelpsSent *int64
}

// Empty reports whether no statistic was found.
func (d Details) Empty() bool {
	return d.Power == nil && d.MaxPower == nil && d.PowerDestroyed == nil && d.ArenaRating == nil &&
		d.MissionsCompleted == nil && d.ResourcesMined == nil && d.AllianceHelpsSent == nil
}

// Apply overlays d onto a member's snapshot entry. A reported max power
// becomes the displayed power.
func (d Details) Apply(base roster.Stats) roster.Stats {
	return roster.ScrapedMember{
		Power:             d.Power,
		MaxPower:          d.MaxPower,
		PowerDestroyed:    d.PowerDestroyed,
		ArenaRating:       d.ArenaRating,
		MissionsCompleted: d.MissionsCompleted,
		ResourcesMined:    d.ResourcesMined,
		AllianceHelpsSent: d.AllianceHelpsSent,
	}.MergeStats(base)
}

// Fetcher retrieves one player's details.
type Fetcher interface {
	Fetch(ctx context.Context, playerID string) (Details, error)
}

// HTTPFetcher reads details from a JSON endpoint.
type HTTPFetcher struct {
	template string
	client   *http.Client
	limiter  *rate.Limiter
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithRateLimit bounds requests per second.
func WithRateLimit(perSecond float64, burst int) FetcherOption {
	return func(f *HTTPFetcher) { f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// NewHTTPFetcher returns a fetcher for urlTemplate, which must contain
// PlayerPlaceholder.
func NewHTTPFetcher(urlTemplate string, opts ...FetcherOption) (*HTTPFetcher, error) {
	if !strings.Contains(urlTemplate, PlayerPlaceholder) {
		return nil, fmt.Errorf("detail url template %q lacks %s: %w", urlTemplate, PlayerPlaceholder, roster.ErrInvalidInput)
	}
	f := &HTTPFetcher{
		template: urlTemplate,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch requests and parses one player's details.
func (f *HTTPFetcher) Fetch(ctx context.Context, playerID string) (Details, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Details{}, err
	}
	u := strings.ReplaceAll(f.template, PlayerPlaceholder, url.QueryEscape(playerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Details{}, fmt.Errorf("build detail request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Details{}, fmt.Errorf("fetch details for %s: %w", playerID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Details{}, fmt.Errorf("read details for %s: %w", playerID, err)
	}
	if resp.StatusCode >= 400 {
		return Details{}, fmt.Errorf("fetch details for %s: status %d", playerID, resp.StatusCode)
	}
	return ParsePayload(body)
}

// ParsePayload extracts Details from a detail response. The response
// may wrap its payload as base64-encoded compressed JSON under "data",
// and the statistics may sit in a nested object or in a list.
func ParsePayload(data []byte) (Details, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return Details{}, fmt.Errorf("decode details: %w", err)
	}
	if obj, ok := payload.(map[string]any); ok {
		if enc, ok := obj["data"].(string); ok {
			if inner, ok := unpack(enc); ok {
				payload = inner
			}
		}
	}

	c := candidate(payload)
	return Details{
		Power:             number(c, "power"),
		MaxPower:          number(c, "maxPower", "max_power"),
		PowerDestroyed:    number(c, "powerDestroyed", "power_destroyed"),
		ArenaRating:       number(c, "arenaRating", "arena_rating"),
		MissionsCompleted: number(c, "missionsCompleted", "missions_completed"),
		ResourcesMined:    number(c, "resourcesMined", "resources_mined"),
		AllianceHelpsSent: number(c, "allianceHelpsSent", "alliance_helps_sent"),
	}, nil
}

var statKeys = []string{
	"power", "maxpower", "max_power", "powerdestroyed", "power_destroyed",
	"arenarating", "arena_rating", "missionscompleted", "missions_completed",
	"resourcesmined", "resources_mined", "alliancehelpssent", "alliance_helps_sent",
}

func candidate(payload any) map[string]any {
	switch p := payload.(type) {
	case []any:
		for _, item := range p {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			for k := range obj {
				for _, want := range statKeys {
					if strings.EqualFold(k, want) {
						return obj
					}
				}
			}
		}
		for _, item := range p {
			if obj, ok := item.(map[string]any); ok && len(obj) > 0 {
				return obj
			}
		}
	case map[string]any:
		for _, key := range []string{"player", "data", "result", "playerDetails", "details"} {
			if obj, ok := p[key].(map[string]any); ok {
				return obj
			}
		}
		return p
	}
	return map[string]any{}
}

// number looks up the first present key, case-insensitively, and coerces
// it to an integer. Strings may carry thousands separators.
func number(obj map[string]any, keys ...string) *int64 {
	for _, want := range keys {
		for k, v := range obj {
			if !strings.EqualFold(k, want) {
				continue
			}
			switch x := v.(type) {
			case json.Number:
				if f, err := x.Float64(); err == nil {
					n := int64(f)
					return &n
				}
			case string:
				clean := strings.NewReplacer(",", "", " ", "", "_", "").Replace(x)
				if f, err := strconv.ParseFloat(clean, 64); err == nil {
					n := int64(f)
					return &n
				}
			}
			return nil
		}
	}
	return nil
}

// unpack decodes base64 and inflates zlib, raw deflate or gzip, in that
// order, then parses the JSON inside.
func unpack(enc string) (any, bool) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, false
	}
	readers := []func(io.Reader) (io.Reader, error){
		func(r io.Reader) (io.Reader, error) { return zlib.NewReader(r) },
		func(r io.Reader) (io.Reader, error) { return flate.NewReader(r), nil },
		func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
	}
	for _, open := range readers {
		r, err := open(bytes.NewReader(raw))
		if err != nil {
			continue
		}
		inflated, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(inflated))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			return v, true
		}
	}
	return nil, false
}

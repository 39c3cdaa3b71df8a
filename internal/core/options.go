package core

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/mitchellh/mapstructure"
)

// DateLayout is the date format the webservice expects for entry dates.
const DateLayout = "2006-01-02 15:04"

var (
	positiveIntKeys = []string{"entry_id", "site_id", "channel_id", "limit"}
	// offset 0 is the first page.
	nonNegativeIntKeys = []string{"offset"}
	dateKeys           = []string{"start_on", "stop_on", "entry_date", "expiration_date"}
)

// strictInt refuses the lossy conversions weak decoding would otherwise
// allow into int fields.
func strictInt(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Int {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Bool:
		return nil, fmt.Errorf("expected an integer, got %v", data)
	case reflect.Float32, reflect.Float64:
		f := reflect.ValueOf(data).Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("expected an integer, got %v", data)
		}
	case reflect.String:
		n, err := strconv.Atoi(strings.TrimSpace(reflect.ValueOf(data).String()))
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", data)
		}
		return n, nil
	}
	return data, nil
}

func decodeInt(v any) (int, error) {
	var n int
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       strictInt,
		Result:           &n,
	})
	if err != nil {
		return 0, err
	}
	if err := dec.Decode(v); err != nil {
		return 0, err
	}
	return n, nil
}

// prepareParams canonicalises numeric and date fields in place and fills
// in site_id and limit defaults where the action uses them.
func prepareParams(action Action, p Params, defaultSiteID, defaultLimit int) *ValidationError {
	var invalid, reasons []string
	intRules := []struct {
		keys []string
		min  int
		want string
	}{
		{positiveIntKeys, 1, "a positive integer"},
		{nonNegativeIntKeys, 0, "a non-negative integer"},
	}
	for _, rule := range intRules {
		for _, key := range rule.keys {
			v, ok := p[key]
			if !ok || v == nil {
				continue
			}
			n, err := decodeInt(v)
			if err != nil || n < rule.min {
				invalid = append(invalid, key)
				reasons = append(reasons, fmt.Sprintf("%s must be %s", key, rule.want))
				continue
			}
			p[key] = n
		}
	}

	for _, key := range dateKeys {
		raw, ok := p[key].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		t, err := dateparse.ParseAny(strings.TrimSpace(raw))
		if err != nil {
			invalid = append(invalid, key)
			reasons = append(reasons, fmt.Sprintf("%s: unrecognised date %q", key, raw))
			continue
		}
		p[key] = t.Format(DateLayout)
	}

	if len(invalid) > 0 {
		return &ValidationError{Action: action, Invalid: invalid, Reason: strings.Join(reasons, "; ")}
	}

	if action != ActionUpdateEntry && p["site_id"] == nil && defaultSiteID > 0 {
		p["site_id"] = defaultSiteID
	}
	if action == ActionSearchEntries && p["limit"] == nil && defaultLimit > 0 {
		p["limit"] = defaultLimit
	}
	return nil
}

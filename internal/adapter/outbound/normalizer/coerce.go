package normalizer

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// numberPattern captures either a digit-led number or a bare decimal like
// ".5". A bare decimal must not follow a letter, so the dot of "Rs." is
// never read as a decimal point.
var numberPattern = regexp.MustCompile(`(-?\d[\d,]*(?:\.\d+)?)|(?:^|[^A-Za-z0-9.])(-?\.\d+)`)

// toNumber coerces prices and ratings from the shapes APIs actually send:
// numbers, numeric strings with currency symbols or thousands separators,
// and objects carrying a min/max/value/amount field. Only finite values
// are accepted.
func toNumber(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		sub := numberPattern.FindStringSubmatch(x)
		if sub == nil {
			return 0, false
		}
		m := sub[1]
		if m == "" {
			m = sub[2]
		}
		parsed, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case map[string]any:
		for _, key := range []string{"min", "max", "value", "amount"} {
			if inner, ok := x[key]; ok {
				if n, ok := toNumber(inner); ok {
					return n, true
				}
			}
		}
		return 0, false
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numberPtr(v any) *float64 {
	if n, ok := toNumber(v); ok {
		return &n
	}
	return nil
}

// toText renders scalar identifiers and labels as strings.
func toText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
		switch s {
		case "true", "yes", "in stock", "instock", "available":
			return true, true
		case "false", "no", "out of stock", "outofstock", "unavailable", "sold out":
			return false, true
		}
	case float64:
		return x > 0, true
	case int:
		return x > 0, true
	}
	return false, false
}

// formatDiscount renders a discount percentage as "N% off".
func formatDiscount(pct float64) string {
	return fmt.Sprintf("%d%% off", int(math.Round(pct)))
}

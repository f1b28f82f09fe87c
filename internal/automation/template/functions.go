package template

import (
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// fn is a registered built-in. value is the chained receiver (nil for a
// top-level call); args are already-evaluated.
type fn func(value any, args []any) (any, error)

var registry map[string]fn

func init() {
	registry = map[string]fn{
		// string
		"toUpperCase": func(v any, a []any) (any, error) { return strings.ToUpper(asString(v)), nil },
		"toLowerCase": func(v any, a []any) (any, error) { return strings.ToLower(asString(v)), nil },
		"capitalize": func(v any, a []any) (any, error) {
			s := asString(v)
			if s == "" {
				return s, nil
			}
			return strings.ToUpper(s[:1]) + s[1:], nil
		},
		"truncate": func(v any, a []any) (any, error) {
			s := asString(v)
			max := int(asNumber(arg(a, 0, nil)))
			suffix := "..."
			if len(a) > 1 {
				suffix = asString(a[1])
			}
			if len(s) <= max {
				return s, nil
			}
			return s[:max] + suffix, nil
		},
		"replace": func(v any, a []any) (any, error) {
			return strings.ReplaceAll(asString(v), asString(arg(a, 0, "")), asString(arg(a, 1, ""))), nil
		},
		"match": func(v any, a []any) (any, error) {
			re, err := regexp.Compile(asString(arg(a, 0, "")))
			if err != nil {
				return nil, fmt.Errorf("match: invalid regex: %w", err)
			}
			return re.MatchString(asString(v)), nil
		},
		"substring": func(v any, a []any) (any, error) {
			s := asString(v)
			start := clampIndex(int(asNumber(arg(a, 0, 0.0))), len(s))
			end := len(s)
			if len(a) > 1 {
				end = clampIndex(int(asNumber(a[1])), len(s))
			}
			if start > end {
				start, end = end, start
			}
			return s[start:end], nil
		},
		"trim":   func(v any, a []any) (any, error) { return strings.TrimSpace(asString(v)), nil },
		"length": func(v any, a []any) (any, error) { return float64(collectionLen(v)), nil },
		"split": func(v any, a []any) (any, error) {
			parts := strings.Split(asString(v), asString(arg(a, 0, "")))
			out := make([]any, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return out, nil
		},
		"concat":   func(v any, a []any) (any, error) { return asString(v) + asString(arg(a, 0, "")), nil },
		"padStart": func(v any, a []any) (any, error) { return padString(asString(v), a, true), nil },
		"padEnd":   func(v any, a []any) (any, error) { return padString(asString(v), a, false), nil },
		"isEmpty":  func(v any, a []any) (any, error) { return isEmptyValue(v), nil },
		"isNotEmpty": func(v any, a []any) (any, error) {
			e, _ := isEmptyValue(v).(bool)
			return !e, nil
		},
		"htmlEncode": func(v any, a []any) (any, error) { return html.EscapeString(asString(v)), nil },
		"urlEncode":  func(v any, a []any) (any, error) { return url.QueryEscape(asString(v)), nil },
		"jsonStringify": func(v any, a []any) (any, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		},

		// number
		"toNumber": func(v any, a []any) (any, error) { return asNumber(v), nil },
		"abs":      func(v any, a []any) (any, error) { n := asNumber(v); if n < 0 { return -n, nil }; return n, nil },
		"round": func(v any, a []any) (any, error) {
			digits := 0
			if len(a) > 0 {
				digits = int(asNumber(a[0]))
			}
			mult := pow10(digits)
			return roundHalfAwayFromZero(asNumber(v)*mult) / mult, nil
		},
		"ceil":  func(v any, a []any) (any, error) { return ceilFloat(asNumber(v)), nil },
		"floor": func(v any, a []any) (any, error) { return floorFloat(asNumber(v)), nil },
		"min": func(v any, a []any) (any, error) {
			o := asNumber(arg(a, 0, 0.0))
			n := asNumber(v)
			if o < n {
				return o, nil
			}
			return n, nil
		},
		"max": func(v any, a []any) (any, error) {
			o := asNumber(arg(a, 0, 0.0))
			n := asNumber(v)
			if o > n {
				return o, nil
			}
			return n, nil
		},
		"percentage": func(v any, a []any) (any, error) {
			total := asNumber(arg(a, 0, 0.0))
			if total == 0 {
				return 0.0, fmt.Errorf("percentage: division by zero")
			}
			return asNumber(v) / total * 100, nil
		},
		"isPositive": func(v any, a []any) (any, error) { return asNumber(v) > 0, nil },
		"isNegative": func(v any, a []any) (any, error) { return asNumber(v) < 0, nil },
		"isZero":     func(v any, a []any) (any, error) { return asNumber(v) == 0, nil },

		// date
		"plusDays":    func(v any, a []any) (any, error) { return addDateFn(v, a, time.Hour*24) },
		"minusDays":   func(v any, a []any) (any, error) { return addDateFn(v, a, -time.Hour*24) },
		"plusHours":   func(v any, a []any) (any, error) { return addDateFn(v, a, time.Hour) },
		"minusHours":  func(v any, a []any) (any, error) { return addDateFn(v, a, -time.Hour) },
		"plusMinutes": func(v any, a []any) (any, error) { return addDateFn(v, a, time.Minute) },
		"format": func(v any, a []any) (any, error) {
			t, err := asTime(v)
			if err != nil {
				return nil, err
			}
			return formatDateToken(t, asString(arg(a, 0, ""))), nil
		},
		"isAfter": func(v any, a []any) (any, error) {
			t, err := asTime(v)
			if err != nil {
				return nil, err
			}
			o, err := asTime(arg(a, 0, nil))
			if err != nil {
				return nil, err
			}
			return t.After(o), nil
		},
		"isBefore": func(v any, a []any) (any, error) {
			t, err := asTime(v)
			if err != nil {
				return nil, err
			}
			o, err := asTime(arg(a, 0, nil))
			if err != nil {
				return nil, err
			}
			return t.Before(o), nil
		},
		"dayOfWeek": func(v any, a []any) (any, error) {
			t, err := asTime(v)
			if err != nil {
				return nil, err
			}
			return float64(t.Weekday()), nil
		},
		"startOfDay": func(v any, a []any) (any, error) {
			t, err := asTime(v)
			if err != nil {
				return nil, err
			}
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), nil
		},
		"endOfDay": func(v any, a []any) (any, error) {
			t, err := asTime(v)
			if err != nil {
				return nil, err
			}
			return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999000000, t.Location()), nil
		},
		"toEpochMs": func(v any, a []any) (any, error) {
			t, err := asTime(v)
			if err != nil {
				return nil, err
			}
			return float64(t.UnixMilli()), nil
		},
		"diffDays": func(v any, a []any) (any, error) {
			t, err := asTime(v)
			if err != nil {
				return nil, err
			}
			o, err := asTime(arg(a, 0, nil))
			if err != nil {
				return nil, err
			}
			return float64(int(t.Sub(o).Hours() / 24)), nil
		},
		"now": func(v any, a []any) (any, error) { return time.Now().UTC(), nil },

		// collection
		"size": func(v any, a []any) (any, error) { return float64(collectionLen(v)), nil },
		"first": func(v any, a []any) (any, error) {
			s := asSlice(v)
			if len(s) == 0 {
				return nil, nil
			}
			return s[0], nil
		},
		"last": func(v any, a []any) (any, error) {
			s := asSlice(v)
			if len(s) == 0 {
				return nil, nil
			}
			return s[len(s)-1], nil
		},
		"join": func(v any, a []any) (any, error) {
			sep := ", "
			if len(a) > 0 {
				sep = asString(a[0])
			}
			s := asSlice(v)
			parts := make([]string, len(s))
			for i, e := range s {
				parts[i] = asString(e)
			}
			return strings.Join(parts, sep), nil
		},
		"contains": func(v any, a []any) (any, error) {
			needle := arg(a, 0, nil)
			switch t := v.(type) {
			case string:
				return strings.Contains(t, asString(needle)), nil
			default:
				for _, e := range asSlice(v) {
					if looseEquals(e, needle) {
						return true, nil
					}
				}
				return false, nil
			}
		},
		"flatten": func(v any, a []any) (any, error) {
			var out []any
			for _, e := range asSlice(v) {
				if nested, ok := e.([]any); ok {
					out = append(out, nested...)
				} else {
					out = append(out, e)
				}
			}
			return out, nil
		},
		"unique": func(v any, a []any) (any, error) {
			var out []any
			for _, e := range asSlice(v) {
				dup := false
				for _, o := range out {
					if looseEquals(e, o) {
						dup = true
						break
					}
				}
				if !dup {
					out = append(out, e)
				}
			}
			return out, nil
		},
		"sort": func(v any, a []any) (any, error) {
			s := append([]any(nil), asSlice(v)...)
			sort.SliceStable(s, func(i, j int) bool {
				return fmt.Sprint(s[i]) < fmt.Sprint(s[j])
			})
			return s, nil
		},
		"reverse": func(v any, a []any) (any, error) {
			s := asSlice(v)
			out := make([]any, len(s))
			for i, e := range s {
				out[len(s)-1-i] = e
			}
			return out, nil
		},
		"at": func(v any, a []any) (any, error) {
			s := asSlice(v)
			i := int(asNumber(arg(a, 0, 0.0)))
			if i < 0 || i >= len(s) {
				return nil, nil
			}
			return s[i], nil
		},
		"slice": func(v any, a []any) (any, error) {
			s := asSlice(v)
			start := clampIndex(int(asNumber(arg(a, 0, 0.0))), len(s))
			end := len(s)
			if len(a) > 1 {
				end = clampIndex(int(asNumber(a[1])), len(s))
			}
			if start > end {
				return []any{}, nil
			}
			return s[start:end], nil
		},
		"map": func(v any, a []any) (any, error) {
			path := asString(arg(a, 0, ""))
			s := asSlice(v)
			out := make([]any, len(s))
			for i, e := range s {
				out[i] = resolveDottedPath(e, path)
			}
			return out, nil
		},
		"filter": func(v any, a []any) (any, error) {
			path := asString(arg(a, 0, ""))
			var out []any
			if len(a) > 1 {
				expected := a[1]
				for _, e := range asSlice(v) {
					if looseEquals(resolveDottedPath(e, path), expected) {
						out = append(out, e)
					}
				}
			} else {
				for _, e := range asSlice(v) {
					if isTruthy(resolveDottedPath(e, path)) {
						out = append(out, e)
					}
				}
			}
			return out, nil
		},
		"sum": func(v any, a []any) (any, error) {
			path := ""
			if len(a) > 0 {
				path = asString(a[0])
			}
			total := 0.0
			for _, e := range asSlice(v) {
				val := e
				if path != "" {
					val = resolveDottedPath(e, path)
				}
				total += asNumber(val)
			}
			return total, nil
		},
		"avg": func(v any, a []any) (any, error) {
			s := asSlice(v)
			if len(s) == 0 {
				return 0.0, nil
			}
			sumRes, err := registry["sum"](v, a)
			if err != nil {
				return nil, err
			}
			return sumRes.(float64) / float64(len(s)), nil
		},
		"count": func(v any, a []any) (any, error) { return float64(collectionLen(v)), nil },
	}
}

func arg(args []any, i int, def any) any {
	if i < len(args) {
		return args[i]
	}
	return def
}

func padString(s string, a []any, start bool) string {
	n := int(asNumber(arg(a, 0, 0.0)))
	ch := " "
	if len(a) > 1 {
		ch = asString(a[1])
	}
	if ch == "" {
		ch = " "
	}
	for len(s) < n {
		if start {
			s = ch + s
		} else {
			s = s + ch
		}
	}
	return s
}

func clampIndex(i, length int) int {
	if i < 0 {
		i = length + i
	}
	if i < 0 {
		return 0
	}
	if i > length {
		return length
	}
	return i
}

func pow10(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 10
	}
	for i := 0; i > n; i-- {
		r /= 10
	}
	return r
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}

func ceilFloat(f float64) float64 {
	i := int64(f)
	if f > float64(i) {
		return float64(i + 1)
	}
	return float64(i)
}

func floorFloat(f float64) float64 {
	i := int64(f)
	if f < float64(i) {
		return float64(i - 1)
	}
	return float64(i)
}

func addDateFn(v any, a []any, unit time.Duration) (any, error) {
	t, err := asTime(v)
	if err != nil {
		return nil, err
	}
	n := asNumber(arg(a, 0, 0.0))
	return t.Add(time.Duration(n) * unit), nil
}

// formatDateToken applies the token table from longest-to-shortest so that
// e.g. "yyyy" is substituted before "yy" and "EEEE" before "EEE".
func formatDateToken(t time.Time, pattern string) string {
	type tok struct {
		token string
		value string
	}
	tokens := []tok{
		{"yyyy", fmt.Sprintf("%04d", t.Year())},
		{"yy", fmt.Sprintf("%02d", t.Year()%100)},
		{"MM", fmt.Sprintf("%02d", int(t.Month()))},
		{"M", strconv.Itoa(int(t.Month()))},
		{"dd", fmt.Sprintf("%02d", t.Day())},
		{"d", strconv.Itoa(t.Day())},
		{"HH", fmt.Sprintf("%02d", t.Hour())},
		{"H", strconv.Itoa(t.Hour())},
		{"mm", fmt.Sprintf("%02d", t.Minute())},
		{"m", strconv.Itoa(t.Minute())},
		{"ss", fmt.Sprintf("%02d", t.Second())},
		{"s", strconv.Itoa(t.Second())},
		{"SSS", fmt.Sprintf("%03d", t.Nanosecond()/1e6)},
		{"EEEE", t.Weekday().String()},
		{"EEE", t.Weekday().String()[:3]},
	}
	sort.SliceStable(tokens, func(i, j int) bool { return len(tokens[i].token) > len(tokens[j].token) })

	var out strings.Builder
	i := 0
	for i < len(pattern) {
		matched := false
		for _, tk := range tokens {
			if strings.HasPrefix(pattern[i:], tk.token) {
				out.WriteString(tk.value)
				i += len(tk.token)
				matched = true
				break
			}
		}
		if !matched {
			out.WriteByte(pattern[i])
			i++
		}
	}
	return out.String()
}

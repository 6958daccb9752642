package projection

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mdao/lm-indexer/internal/domain/validation"
)

// args reads typed values out of decoded event arguments and records one
// validation issue per malformed field. Keys are looked up at the top level
// first and then inside an optional "metadata" object, which carries the
// fields resolved from the metadata URI.
type args struct {
	values map[string]any
	issues *validation.Result
}

func newArgs(values map[string]any, issues *validation.Result) args {
	if values == nil {
		values = map[string]any{}
	}
	return args{values: values, issues: issues}
}

// lookup returns the first present key among names and the name it was
// found under.
func (a args) lookup(names ...string) (any, string, bool) {
	for _, name := range names {
		if v, ok := a.values[name]; ok && v != nil {
			return v, name, true
		}
	}
	if meta, ok := a.values["metadata"].(map[string]any); ok {
		for _, name := range names {
			if v, ok := meta[name]; ok && v != nil {
				return v, name, true
			}
		}
	}
	return nil, names[0], false
}

func (a args) nested(name string) args {
	v, _, ok := a.lookup(name)
	if !ok {
		return newArgs(nil, a.issues)
	}
	m, ok := v.(map[string]any)
	if !ok {
		a.issues.Add(name, "Expected object")
		return newArgs(nil, a.issues)
	}
	return args{values: m, issues: a.issues}
}

func (a args) has(names ...string) bool {
	_, _, ok := a.lookup(names...)
	return ok
}

// str renders strings and numbers as text. Other kinds are an issue.
func (a args) str(names ...string) string {
	v, name, ok := a.lookup(names...)
	if !ok {
		return ""
	}
	s, ok := scalarString(v)
	if !ok {
		a.issues.Add(name, "Expected string")
		return ""
	}
	return strings.TrimSpace(s)
}

func (a args) address(names ...string) string {
	return validation.NormalizeAddress(a.str(names...))
}

func (a args) int64(names ...string) int64 {
	v, name, ok := a.lookup(names...)
	if !ok {
		return 0
	}
	n, ok := toInt64(v)
	if !ok {
		a.issues.Add(name, "Expected integer")
		return 0
	}
	return n
}

// time accepts unix seconds (number or numeric string) or RFC 3339.
func (a args) time(names ...string) *time.Time {
	v, name, ok := a.lookup(names...)
	if !ok {
		return nil
	}
	if n, ok := toInt64(v); ok {
		t := time.Unix(n, 0).UTC()
		return &t
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(s)); err == nil {
			t = t.UTC()
			return &t
		}
	}
	a.issues.Add(name, "Expected unix seconds or RFC 3339 time")
	return nil
}

// ids returns a sorted, de-duplicated list so that replays converge on the
// same value whatever order the feed listed them in.
func (a args) ids(names ...string) []string {
	v, name, ok := a.lookup(names...)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			list = make([]any, len(s))
			for i := range s {
				list[i] = s[i]
			}
		} else {
			a.issues.Add(name, "Expected list")
			return nil
		}
	}

	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := scalarString(item)
		if !ok || strings.TrimSpace(s) == "" {
			a.issues.Add(name, "Expected list of ids")
			return nil
		}
		s = strings.TrimSpace(s)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	default:
		return "", false
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case float64:
		if t != math.Trunc(t) || t > math.MaxInt64 || t < math.MinInt64 {
			return 0, false
		}
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

package tools

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// validateArgs checks raw against spec and returns typed arguments.
func validateArgs(spec Spec, raw map[string]any) (Args, *Failure) {
	known := make(map[string]bool, len(spec.Params))
	for _, p := range spec.Params {
		known[p.Name] = true
	}
	var unknown []string
	for k := range raw {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, invalidf("unexpected argument(s) %s for %s", strings.Join(unknown, ", "), spec.Name)
	}

	args := make(Args, len(spec.Params))
	for _, p := range spec.Params {
		v, present := raw[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, invalidf("missing required argument %q", p.Name)
			}
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}

		switch p.Type {
		case TypeString:
			s, ok := v.(string)
			if !ok {
				return nil, invalidf("argument %q must be a string", p.Name)
			}
			s = strings.TrimSpace(s)
			if s == "" {
				return nil, invalidf("argument %q must not be empty", p.Name)
			}
			if p.Pattern != nil && !p.Pattern.MatchString(s) {
				return nil, invalidf("argument %q value %q does not match %s", p.Name, s, p.Pattern)
			}
			args[p.Name] = s

		case TypeInteger:
			n, ok := toInt(v)
			if !ok {
				return nil, invalidf("argument %q must be an integer", p.Name)
			}
			if p.Max > 0 && (n < p.Min || n > p.Max) {
				return nil, invalidf("argument %q must be between %d and %d, got %d", p.Name, p.Min, p.Max, n)
			}
			args[p.Name] = n
		}
	}
	return args, nil
}

// toInt accepts the numeric shapes a JSON decoder or a CLI may produce.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

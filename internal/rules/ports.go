package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PortRange is an inclusive range of TCP/UDP ports.
type PortRange struct {
	From int
	To   int
}

// PortSet is the set of ports considered sensitive when exposed to the
// internet. All means every port is sensitive.
type PortSet struct {
	All    bool
	Ranges []PortRange
}

// DefaultSensitivePorts is SSH and RDP.
var DefaultSensitivePorts = PortSet{Ranges: []PortRange{{22, 22}, {3389, 3389}}}

// ParsePortSet parses entries such as "22", "3389", "8000-8100" or "all".
func ParsePortSet(entries []string) (PortSet, error) {
	var ps PortSet
	for _, e := range entries {
		e = strings.TrimSpace(strings.ToLower(e))
		if e == "" {
			continue
		}
		if e == "all" || e == "*" {
			ps.All = true
			continue
		}
		from, to, isRange := strings.Cut(e, "-")
		lo, err := parsePort(from)
		if err != nil {
			return PortSet{}, fmt.Errorf("sensitive port %q: %w", e, err)
		}
		hi := lo
		if isRange {
			hi, err = parsePort(to)
			if err != nil {
				return PortSet{}, fmt.Errorf("sensitive port %q: %w", e, err)
			}
			if hi < lo {
				return PortSet{}, fmt.Errorf("sensitive port %q: range is inverted", e)
			}
		}
		ps.Ranges = append(ps.Ranges, PortRange{From: lo, To: hi})
	}
	sort.Slice(ps.Ranges, func(i, j int) bool { return ps.Ranges[i].From < ps.Ranges[j].From })
	return ps, nil
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if n < 0 || n > 65535 {
		return 0, fmt.Errorf("out of range 0-65535")
	}
	return n, nil
}

// IsEmpty reports whether no port is sensitive.
func (ps PortSet) IsEmpty() bool { return !ps.All && len(ps.Ranges) == 0 }

// Overlaps returns the sensitive ports that fall inside [from, to]. When
// the set is All, the whole range is returned as a single entry.
func (ps PortSet) Overlaps(from, to int) []PortRange {
	if from < 0 || to < from {
		return nil
	}
	if ps.All {
		return []PortRange{{From: from, To: to}}
	}
	var out []PortRange
	for _, r := range ps.Ranges {
		lo, hi := max(r.From, from), min(r.To, to)
		if lo <= hi {
			out = append(out, PortRange{From: lo, To: hi})
		}
	}
	return out
}

// Contains reports whether port is sensitive.
func (ps PortSet) Contains(port int) bool { return len(ps.Overlaps(port, port)) > 0 }

func (r PortRange) String() string {
	if r.From == r.To {
		return strconv.Itoa(r.From)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

func (ps PortSet) String() string {
	if ps.All {
		return "all"
	}
	parts := make([]string, 0, len(ps.Ranges))
	for _, r := range ps.Ranges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ",")
}

// Package featureflags evaluates rollout flags parsed from a config
// string. Flags gate escape hatches around reserved-channel rules, e.g.
// "can_leave_shield_battery=on,can_moderate_shield_battery=5%".
package featureflags

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// rule is one parsed flag value: a hard on/off or a percentage rollout.
type rule struct {
	on      bool
	percent int
}

// Manager evaluates feature flags for individual users.
type Manager struct {
	rules map[string]rule
}

// NewManager parses a comma-separated "name=value" list. Values are
// on/true/1, off/false/0, or "N%" for a deterministic per-user rollout.
// Malformed pairs are skipped.
func NewManager(raw string) *Manager {
	rules := make(map[string]rule)

	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name = normalize(name)
		value = normalize(value)
		if name == "" || value == "" {
			continue
		}

		switch value {
		case "on", "true", "1":
			rules[name] = rule{on: true}
		case "off", "false", "0":
			rules[name] = rule{}
		default:
			pctRaw, found := strings.CutSuffix(value, "%")
			if !found {
				continue
			}
			pct, err := strconv.Atoi(pctRaw)
			if err != nil {
				continue
			}
			rules[name] = rule{percent: pct}
		}
	}

	return &Manager{rules: rules}
}

// Enabled reports whether the flag is active for the given user.
// Unknown flags are off. Percentage rollouts bucket users by a hash of
// flag name and user id, so one user's answer is stable across calls.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return false
	}

	r, ok := m.rules[normalize(name)]
	if !ok {
		return false
	}
	if r.on {
		return true
	}
	if r.percent <= 0 {
		return false
	}
	if r.percent >= 100 {
		return true
	}
	if userID == 0 {
		return false
	}
	return rolloutBucket(name, userID) < r.percent
}

// Snapshot evaluates every configured flag for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	out := make(map[string]bool, len(m.rules))
	for name := range m.rules {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s:%d", normalize(name), userID)))
	return int(h.Sum32() % 100)
}

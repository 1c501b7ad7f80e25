package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Fingerprint normalizes a tool call's arguments into a stable key so that
// repeated calls with cosmetically different arguments (a path given
// absolute vs workspace-relative, extra whitespace, map keys in a different
// order) are recognized as the same call. The Policy Gate's session-approval
// cache, the Loop Detector's oscillation window, and the Approval Broker's
// per-session cache all key off this same fingerprint.
func Fingerprint(workspace, toolName string, args map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	for _, k := range sortedKeys(args) {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(normalizeValue(workspace, args[k])))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeValue(workspace string, v interface{}) string {
	switch t := v.(type) {
	case string:
		return normalizeString(workspace, t)
	case map[string]interface{}:
		var b strings.Builder
		for _, k := range sortedKeys(t) {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(normalizeValue(workspace, t[k]))
			b.WriteByte(';')
		}
		return b.String()
	case []interface{}:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = normalizeValue(workspace, e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// normalizeString collapses whitespace runs and, when the value looks like
// an absolute path under the workspace, rewrites it workspace-relative so
// `/ws/foo.go` and `foo.go` fingerprint identically.
func normalizeString(workspace, s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if workspace == "" {
		return s
	}
	if filepath.IsAbs(s) {
		if rel, err := filepath.Rel(workspace, s); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return s
}

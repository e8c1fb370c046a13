package obs

import "strings"

// CanonicalPath collapses resource identifiers so metric labels stay bounded.
// Unknown paths are returned as-is; only the documented API shapes are folded.
func CanonicalPath(raw string) string {
	path := raw
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}

	for _, prefix := range []string{"/v1/roles/", "/v1/permissions/", "/v1/applications/"} {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
		if rest == "" {
			return strings.TrimSuffix(prefix, "/")
		}
		parts := strings.Split(rest, "/")
		switch len(parts) {
		case 1:
			return prefix + ":id"
		case 2:
			switch parts[1] {
			case "permissions", "approve", "reject":
				return prefix + ":id/" + parts[1]
			}
		}
		return path
	}
	return path
}

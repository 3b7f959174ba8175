// Package encfs maps paths inside an EncFS overlay mount back to the
// encrypted files on the backing store. Extent maps are only meaningful for
// the backing file, so every path headed for extent enumeration goes
// through a Resolver first.
package encfs

import "strings"

// parseEncfsCmdline extracts the backing and mount directories from a
// /proc/<pid>/cmdline image of an encfs process. Tokens are NUL-separated;
// argv[0] must be the literal "encfs" and the first two non-option tokens
// are the backing dir and the mount point, in that order.
func parseEncfsCmdline(data []byte) (back, front string, ok bool) {
	tokens := strings.Split(string(data), "\x00")
	if len(tokens) == 0 || tokens[0] != "encfs" {
		return "", "", false
	}

	var dirs []string
	for _, t := range tokens[1:] {
		if t == "" || strings.HasPrefix(t, "-") {
			continue
		}
		dirs = append(dirs, t)
		if len(dirs) == 2 {
			break
		}
	}
	if len(dirs) < 2 {
		return "", "", false
	}
	return trimTrailingSlash(dirs[0]), trimTrailingSlash(dirs[1]), true
}

// trimTrailingSlash drops trailing slashes, keeping a bare "/" intact.
func trimTrailingSlash(p string) string {
	t := strings.TrimRight(p, "/")
	if t == "" {
		return "/"
	}
	return t
}

// pathHasPrefix reports whether path lies at or under prefix, matching on
// whole path components.
func pathHasPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}

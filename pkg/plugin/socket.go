package plugin

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// slugify lowercases name, replaces every non-alphanumeric rune with a
// hyphen, and trims leading and trailing hyphens, producing the socket
// file's base name.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// allocateSocket binds a Unix socket under dir for the given class name,
// trying "<slug>.sock", then "<slug>-1.sock", "<slug>-2.sock", ... until a
// path can be bound. The existence check and the bind are not atomic, so
// the loop also retries past a bind that loses the TOCTOU race with
// EADDRINUSE; it is bounded only by integer growth.
func allocateSocket(dir, className string) (net.Listener, string, error) {
	slug := slugify(className)
	if slug == "" {
		return nil, "", fmt.Errorf("plugin: class name %q slugs to an empty socket name", className)
	}

	for i := 0; ; i++ {
		name := slug + ".sock"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.sock", slug, i)
		}
		path := filepath.Join(dir, name)

		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("plugin: stat %s: %w", path, err)
		}

		listener, err := net.Listen("unix", path)
		if err != nil {
			if errors.Is(err, syscall.EADDRINUSE) {
				continue
			}
			return nil, "", fmt.Errorf("plugin: listen on %s: %w", path, err)
		}
		return listener, path, nil
	}
}

package config

import (
	"os"
	"regexp"
	"strings"
)

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} references. Unset
// variables without a default expand to the empty string; a bare $VAR is
// left alone.
func ExpandEnv(data []byte) []byte {
	return envRefRe.ReplaceAllFunc(data, func(ref []byte) []byte {
		m := envRefRe.FindSubmatch(ref)
		name := string(m[1])
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return []byte(v)
		}
		if len(m[2]) > 0 {
			return []byte(strings.TrimSpace(string(m[3])))
		}
		return nil
	})
}

// Package config handles joblog.yaml loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// ExpandEnv substitutes environment references in a config file:
//
//	${VAR}            value of VAR, empty when unset
//	${VAR:-default}   value of VAR, default when unset or empty
//	${VAR:?message}   value of VAR, an error when unset or empty
//
// Every missing required variable is reported, not only the first.
func ExpandEnv(input string) (string, error) {
	var missing []error
	out := envRef.ReplaceAllStringFunc(input, func(match string) string {
		m := envRef.FindStringSubmatch(match)
		name, op, arg := m[1], m[2], m[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		switch op {
		case "-":
			return arg
		case "?":
			if arg == "" {
				arg = "required"
			}
			missing = append(missing, fmt.Errorf("${%s}: %s", name, arg))
		}
		return ""
	})
	return out, errors.Join(missing...)
}

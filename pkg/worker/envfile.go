package worker

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// writeEnvFile renders env as a KEY=VALUE file at path, one entry per line,
// sorted for deterministic output. The worker never persists env in its own
// store; it is rendered fresh from whatever control last sent.
func writeEnvFile(path string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, env[k])
	}
	return os.WriteFile(path, []byte(b.String()), 0600)
}

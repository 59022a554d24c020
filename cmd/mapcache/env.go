package main

import (
	"flag"
	"os"
	"strings"
)

// applyEnvOverrides sets any unset flag from an environment variable named
// "<prefix>_<FLAGNAME>" (flag name upper-cased, '-' replaced with '_'),
// the same behavior imageproxy gets from its vendored third_party/envy
// package. envy itself lives under an internal import path we cannot
// reach from outside that module, so this reimplements just the piece
// mapcache needs: call before flag.Parse so explicit command-line flags
// still win.
func applyEnvOverrides(prefix string) {
	flag.VisitAll(func(f *flag.Flag) {
		name := prefix + "_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := os.LookupEnv(name); ok {
			_ = f.Value.Set(v)
		}
	})
}

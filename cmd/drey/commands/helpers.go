package commands

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/drey/internal/manifest"
	"github.com/dyluth/drey/internal/printer"
)

// envOverridePrefix namespaces env-var overrides, e.g.
// DREY_COMPONENTS_GEO_VELOCITY_PARAMETERS_MAX_RPS.
const envOverridePrefix = "DREY_"

// buildResolver loads the manifest library and wires the runtime override
// tier: a Redis store when --redis is given, the process environment
// otherwise. The returned closer releases the Redis connection, if any.
func buildResolver(dir, redisAddr, instanceName string) (*manifest.Resolver, func(), error) {
	lib, err := manifest.LoadDir(dir)
	if err != nil {
		return nil, nil, printer.Error(
			"failed to load manifests",
			fmt.Sprintf("Could not read manifest directory %s: %v", dir, err),
			[]string{"Check the --manifests path and file permissions"},
		)
	}

	var (
		overrides manifest.OverrideStore
		closer    = func() {}
	)
	if redisAddr != "" {
		store, err := manifest.NewRedisOverrides(&redis.Options{Addr: redisAddr}, instanceName)
		if err != nil {
			return nil, nil, printer.Error(
				"failed to connect override store",
				fmt.Sprintf("Could not create Redis override store: %v", err),
				[]string{"Check the --redis address and --name instance"},
			)
		}
		overrides = store
		closer = func() { store.Close() }
	} else {
		overrides = manifest.EnvOverrides{Prefix: envOverridePrefix}
	}

	return manifest.NewResolver(lib, overrides), closer, nil
}

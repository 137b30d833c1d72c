package manifest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
)

// OverrideStore is the runtime override tier (tier 1) of the configuration
// hierarchy: host or environment configuration consulted before manifest
// defaults. Paths use the colon-separated convention
// "Components:<name>:Parameters:<param>".
type OverrideStore interface {
	// Lookup returns the override at path, if present. Values are returned
	// as delivered by the store (typically strings); the resolver's typed
	// conversion handles coercion.
	Lookup(path string) (any, bool)
}

// ParameterPath returns the override path for a component parameter.
func ParameterPath(component, param string) string {
	return fmt.Sprintf("Components:%s:Parameters:%s", component, param)
}

// FieldPath returns the override path for a named defaults field, e.g.
// FieldPath("geo-velocity", "Weights", "base"). Field names use the
// manifests' snake_case spelling so the same path works verbatim as a Redis
// hash field or an upper-cased environment variable.
func FieldPath(component, section, field string) string {
	return fmt.Sprintf("Components:%s:%s:%s", component, section, field)
}

// EnvOverrides reads overrides from process environment variables. The path
// "Components:geo:Parameters:max_rps" maps to the variable
// "<prefix>COMPONENTS_GEO_PARAMETERS_MAX_RPS".
type EnvOverrides struct {
	Prefix string // e.g. "DREY_"; empty means no prefix
}

// Lookup implements OverrideStore.
func (e EnvOverrides) Lookup(path string) (any, bool) {
	key := e.Prefix + strings.ToUpper(strings.NewReplacer(":", "_", ".", "_", "-", "_").Replace(path))
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil, false
	}
	return v, true
}

// RedisOverrides reads overrides from an instance-namespaced Redis hash, so
// operators can retune components across processes without redeploying.
// Each component's overrides live in one hash:
//
//	key:   drey:{instance}:config:{component}
//	field: parameters.max_rps / weights.base / features.enable_cache / ...
type RedisOverrides struct {
	rdb      *redis.Client
	instance string
}

// NewRedisOverrides creates a redis-backed override store for the instance.
func NewRedisOverrides(opts *redis.Options, instance string) (*RedisOverrides, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisOverrides{rdb: redis.NewClient(opts), instance: instance}, nil
}

// OverridesKey returns the Redis key holding a component's override hash.
// Pattern: drey:{instance}:config:{component}
func OverridesKey(instance, component string) string {
	return fmt.Sprintf("drey:%s:config:%s", instance, component)
}

// Lookup implements OverrideStore. Redis errors are treated as "no
// override": resolution falls through to the manifest tier rather than
// failing a run on a flaky config store.
func (r *RedisOverrides) Lookup(path string) (any, bool) {
	component, field, ok := splitPath(path)
	if !ok {
		return nil, false
	}
	v, err := r.rdb.HGet(context.Background(), OverridesKey(r.instance, component), field).Result()
	if err != nil {
		return nil, false
	}
	return v, true
}

// Close closes the underlying Redis connection. Implements io.Closer.
func (r *RedisOverrides) Close() error {
	return r.rdb.Close()
}

// splitPath maps "Components:<name>:<Section>:<field>" onto the component
// name and the lowercased hash field "<section>.<field>".
func splitPath(path string) (component, field string, ok bool) {
	parts := strings.Split(path, ":")
	if len(parts) != 4 || parts[0] != "Components" {
		return "", "", false
	}
	return parts[1], strings.ToLower(parts[2]) + "." + strings.ToLower(parts[3]), true
}

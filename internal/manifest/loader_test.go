package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/pkg/blackboard"
	"github.com/dyluth/drey/pkg/trigger"
)

const fullManifest = `
name: geo-velocity
priority: 20
enabled: true
optional: false
taxonomy:
  kind: detector
  determinism: deterministic
  persistence: stateless
triggers:
  requires:
    - signal: input.ready
    - signal: request.country
      value: "unknown"
  when:
    - 'score < 0.9'
  skip_when:
    - '"request.verified" in signals'
emits:
  on_complete:
    - key: geo.velocity.burst
      type: bool
lane:
  name: cheap
  max_concurrency: 4
escalation:
  targets:
    deep-inspection:
      when:
        - 'score > 0.7'
budget:
  max_duration: 5s
  max_tokens: 1000
  max_cost: 0.25
defaults:
  weights:
    base: 2.0
  confidence:
    bot_detected: 0.92
  timing:
    timeout_ms: 1500
    trigger_timeout_ms: 250
  features:
    can_escalate: true
  parameters:
    max_rps: 50
    window: 30s
    allowed_regions:
      - eu
      - us
tags:
  - velocity
`

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseFullManifest(t *testing.T) {
	m, err := Parse([]byte(fullManifest))
	require.NoError(t, err)

	assert.Equal(t, "geo-velocity", m.Name)
	assert.Equal(t, 20, m.EffectivePriority())
	assert.True(t, m.IsEnabled())
	assert.False(t, m.IsOptional())
	assert.Equal(t, "detector", m.Taxonomy.Kind)
	assert.Equal(t, "cheap", m.Lane.Name)
	assert.Equal(t, 4, m.Lane.MaxConcurrency)
	assert.True(t, m.HasTag("velocity"))

	require.NotNil(t, m.Budget)
	assert.Equal(t, 5*time.Second, m.Budget.MaxDuration.AsDuration())
	assert.Equal(t, 1000, m.Budget.MaxTokens)

	require.NotNil(t, m.Escalation)
	require.Contains(t, m.Escalation.Targets, "deep-inspection")

	// requires (2) + when (1) + folded skip_when (1)
	assert.Len(t, m.Conditions(), 4)
}

func TestParseDefaults(t *testing.T) {
	m, err := Parse([]byte("name: bare\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultPriority, m.EffectivePriority())
	assert.True(t, m.IsEnabled())
	assert.True(t, m.IsOptional())
	assert.Empty(t, m.Conditions())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "missing name", src: "priority: 10\n"},
		{name: "not yaml", src: "{{{"},
		{name: "negative max_concurrency", src: "name: x\nlane:\n  max_concurrency: -1\n"},
		{name: "confidence out of range", src: "name: x\ndefaults:\n  confidence:\n    neutral: 1.5\n"},
		{name: "negative timeout", src: "name: x\ndefaults:\n  timing:\n    timeout_ms: -5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestCompiledTriggerSemantics(t *testing.T) {
	m, err := Parse([]byte(`
name: gated
triggers:
  requires:
    - signal: input.ready
    - signal: request.label
      value: bot
`))
	require.NoError(t, err)
	conds := m.Conditions()
	require.Len(t, conds, 2)

	ready := blackboard.Signal{Key: "input.ready", Value: blackboard.BoolValue(true), Confidence: 1, Source: "t", Timestamp: time.Now()}
	label := blackboard.Signal{Key: "request.label", Value: blackboard.StringValue("bot"), Confidence: 1, Source: "t", Timestamp: time.Now()}

	signals := map[string][]blackboard.Signal{"input.ready": {ready}}
	assert.True(t, conds[0].IsSatisfied(signals), "bare requirement is an existence trigger")
	assert.False(t, conds[1].IsSatisfied(signals))

	signals["request.label"] = []blackboard.Signal{label}
	assert.True(t, conds[1].IsSatisfied(signals), "requirement with value is an equality trigger")
}

func TestUnparseableRequirementsAreDroppedNotDefaulted(t *testing.T) {
	m, err := Parse([]byte(`
name: partial
triggers:
  requires:
    - value: 5
    - signal: input.ready
  when:
    - 'this is not CEL'
    - 'score > 0.5'
`))
	require.NoError(t, err, "bad requirements degrade, they do not fail the manifest")

	// The keyless requirement and the bad expression are excluded from the
	// tree; the two good conditions remain.
	conds := m.Conditions()
	require.Len(t, conds, 2)
	assert.Equal(t, trigger.KindSignalExists, conds[0].Kind())
	assert.Equal(t, trigger.KindExpr, conds[1].Kind())
}

func TestDurationUnmarshal(t *testing.T) {
	m, err := Parse([]byte("name: x\nbudget:\n  max_duration: 1500\n"))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, m.Budget.MaxDuration.AsDuration(), "bare integers are milliseconds")

	_, err = Parse([]byte("name: x\nbudget:\n  max_duration: soon\n"))
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "geo.yaml", fullManifest)
	writeManifest(t, dir, "ua.yml", "name: user-agent\npriority: 10\n")
	writeManifest(t, dir, "broken.yaml", "{{{")
	writeManifest(t, dir, "notes.txt", "not a manifest")

	lib, err := LoadDir(dir)
	require.NoError(t, err)

	assert.Equal(t, 2, lib.Len(), "malformed and non-yaml files are skipped")

	m, ok := lib.Get("geo-velocity")
	require.True(t, ok)
	assert.Equal(t, 20, m.EffectivePriority())

	all := lib.All()
	require.Len(t, all, 2)
	assert.Equal(t, "geo-velocity", all[0].Name, "All is sorted by name")
	assert.Equal(t, "user-agent", all[1].Name)
}

func TestLoadDirMissingDirectoryIsEmpty(t *testing.T) {
	lib, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, lib.Len())
}

func TestDuplicateNamesKeepEarlier(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "name: dup\npriority: 10\n")
	writeManifest(t, dir, "b.yaml", "name: dup\npriority: 90\n")

	lib, err := LoadDir(dir)
	require.NoError(t, err)
	require.Equal(t, 1, lib.Len())

	m, _ := lib.Get("dup")
	assert.Equal(t, 10, m.EffectivePriority(), "a.yaml sorts first and wins")
}

func TestWatchHotReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "name: a\npriority: 50\n")

	lib, err := LoadDir(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, lib.Watch(ctx))

	writeManifest(t, dir, "b.yaml", "name: b\n")
	assert.Eventually(t, func() bool { return lib.Len() == 2 }, 5*time.Second, 20*time.Millisecond,
		"new manifest file is picked up without restart")

	writeManifest(t, dir, "a.yaml", "name: a\npriority: 5\n")
	assert.Eventually(t, func() bool {
		m, ok := lib.Get("a")
		return ok && m.EffectivePriority() == 5
	}, 5*time.Second, 20*time.Millisecond, "edits to an existing manifest are picked up")
}

func TestReloadNotifiesCallbacks(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "a.yaml", "name: a\n")

	lib, err := LoadDir(dir)
	require.NoError(t, err)

	fired := 0
	lib.OnReload(func() { fired++ })

	writeManifest(t, dir, "b.yaml", "name: b\n")
	require.NoError(t, lib.reload())

	assert.Equal(t, 1, fired)
	assert.Equal(t, 2, lib.Len())
}

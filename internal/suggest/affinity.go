package suggest

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// affinityCacheTTL bounds how long a directory's detected project types are
// trusted before the next Suggest call re-scans it, mirroring the teacher's
// projecttype.Detector cache without inheriting its override-file or glob
// marker support (unneeded for a re-ranker nudge).
const affinityCacheTTL = 60 * time.Second

// affinityBoost is the maximum multiplier a matched project-type affinity
// can contribute. It is deliberately tiny: spec.md §4.F's five weighted
// factors establish the ordering, and this signal is additive polish
// layered on top of it, never a substitute for one of that table's
// factors (SPEC_FULL.md §4.3).
const affinityBoost = 1.02

// affinityMarker pairs a marker file name (checked in cwd only, not scanned
// upward, since a Suggest call's cwd is already the shell's current
// directory) with the command-line tools its presence makes idiomatic.
type affinityMarker struct {
	file  string
	tools []string
}

var affinityMarkers = []affinityMarker{
	{file: "go.mod", tools: []string{"go"}},
	{file: "package.json", tools: []string{"npm", "npx", "yarn", "pnpm", "node"}},
	{file: "Cargo.toml", tools: []string{"cargo"}},
	{file: "Makefile", tools: []string{"make"}},
	{file: "pyproject.toml", tools: []string{"python", "python3", "pip", "pip3", "poetry"}},
	{file: "setup.py", tools: []string{"python", "python3", "pip", "pip3"}},
	{file: "Gemfile", tools: []string{"bundle", "gem", "ruby"}},
	{file: "Dockerfile", tools: []string{"docker"}},
}

type affinityCacheEntry struct {
	tools     map[string]bool
	expiresAt time.Time
}

// affinityDetector scans a cwd for build-tool marker files and caches the
// result briefly, grounded on internal/suggestions/projecttype.Detector's
// marker-scan-and-cache shape.
type affinityDetector struct {
	mu    sync.Mutex
	cache map[string]affinityCacheEntry
	now   func() time.Time
}

func newAffinityDetector() *affinityDetector {
	return &affinityDetector{cache: make(map[string]affinityCacheEntry), now: time.Now}
}

// tools returns the set of commands this cwd's markers make idiomatic.
func (d *affinityDetector) tools(cwd string) map[string]bool {
	if cwd == "" {
		return nil
	}

	d.mu.Lock()
	entry, ok := d.cache[cwd]
	d.mu.Unlock()
	if ok && d.now().Before(entry.expiresAt) {
		return entry.tools
	}

	tools := make(map[string]bool)
	for _, m := range affinityMarkers {
		if _, err := os.Stat(filepath.Join(cwd, m.file)); err == nil {
			for _, t := range m.tools {
				tools[t] = true
			}
		}
	}

	d.mu.Lock()
	d.cache[cwd] = affinityCacheEntry{tools: tools, expiresAt: d.now().Add(affinityCacheTTL)}
	d.mu.Unlock()
	return tools
}

// score returns affinityBoost when command's leading token is one of the
// tools the cwd's detected project type(s) make idiomatic, else 1.0.
func (d *affinityDetector) score(cwd, command string) float64 {
	tools := d.tools(cwd)
	if len(tools) == 0 {
		return 1.0
	}
	first := command
	if i := strings.IndexByte(command, ' '); i >= 0 {
		first = command[:i]
	}
	if tools[first] {
		return affinityBoost
	}
	return 1.0
}

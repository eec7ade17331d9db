package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/chunkforge/internal/stage"
)

// root mirrors the top-level HCL structure.
type root struct {
	World       *worldBlock       `hcl:"world,block"`
	Persistence *persistenceBlock `hcl:"persistence,block"`
	Scheduler   *schedulerBlock   `hcl:"scheduler,block"`
	Stages      []stageBlock      `hcl:"stage,block"`
}

type worldBlock struct {
	Name string `hcl:"name"`
	Seed int64  `hcl:"seed,optional"`
}

type persistenceBlock struct {
	Path string `hcl:"path"`
}

type schedulerBlock struct {
	Workers           int    `hcl:"workers,optional"`
	MaxRetries        int    `hcl:"max_retries,optional"`
	BaseBackoff       string `hcl:"base_backoff,optional"`
	MaxBackoff        string `hcl:"max_backoff,optional"`
	WarnInterval      string `hcl:"warn_interval,optional"`
	LivelockThreshold int    `hcl:"livelock_threshold,optional"`
}

type stageBlock struct {
	Name   string `hcl:"name,label"`
	Radius int    `hcl:"radius"`
}

// Load reads the configuration at path, which may be a single .hcl file or a
// directory of .hcl files merged in name order.
func Load(path string) (*Config, error) {
	files, err := findConfigFiles(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl files under %s", path)
	}

	parser := hclparse.NewParser()
	var parsed []*hcl.File
	for _, f := range files {
		file, diags := parser.ParseHCLFile(f)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", f, diags)
		}
		parsed = append(parsed, file)
	}

	var r root
	if diags := gohcl.DecodeBody(hcl.MergeFiles(parsed), evalContext(), &r); diags.HasErrors() {
		return nil, fmt.Errorf("decoding configuration: %w", diags)
	}
	return buildConfig(&r)
}

// findConfigFiles resolves a config path into an ordered list of .hcl files.
func findConfigFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".hcl") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// evalContext exposes the process environment as an `env` object so config
// values can reference variables without shelling out templating.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			vars[k] = cty.StringVal(v)
		}
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

// buildConfig applies the decoded blocks on top of the defaults and
// validates the result.
func buildConfig(r *root) (*Config, error) {
	cfg := Default()

	if r.World != nil {
		cfg.World.Name = r.World.Name
		cfg.World.Seed = r.World.Seed
	}
	if r.Persistence != nil {
		cfg.Persistence.Path = r.Persistence.Path
	}
	if r.Scheduler != nil {
		s := r.Scheduler
		if s.Workers != 0 {
			cfg.Scheduler.Workers = s.Workers
		}
		if s.MaxRetries != 0 {
			cfg.Scheduler.MaxRetries = s.MaxRetries
		}
		if s.LivelockThreshold != 0 {
			cfg.Scheduler.LivelockThreshold = s.LivelockThreshold
		}
		var err error
		if cfg.Scheduler.BaseBackoff, err = overrideDuration(cfg.Scheduler.BaseBackoff, s.BaseBackoff, "base_backoff"); err != nil {
			return nil, err
		}
		if cfg.Scheduler.MaxBackoff, err = overrideDuration(cfg.Scheduler.MaxBackoff, s.MaxBackoff, "max_backoff"); err != nil {
			return nil, err
		}
		if cfg.Scheduler.WarnInterval, err = overrideDuration(cfg.Scheduler.WarnInterval, s.WarnInterval, "warn_interval"); err != nil {
			return nil, err
		}
	}
	for _, sb := range r.Stages {
		st, err := stage.Parse(sb.Name)
		if err != nil {
			return nil, fmt.Errorf("stage block: %w", err)
		}
		if err := cfg.Radii.Override(st, sb.Radius); err != nil {
			return nil, fmt.Errorf("stage block %q: %w", sb.Name, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideDuration(current time.Duration, raw, field string) (time.Duration, error) {
	if raw == "" {
		return current, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("scheduler %s: %w", field, err)
	}
	return d, nil
}

package suite

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/model"
	"gopkg.in/yaml.v3"
)

// Extensions lists the suite file suffixes picked up from directories.
var Extensions = []string{".qa.yaml", ".qa.yml"}

// File is the on-disk form of a suite.
type File struct {
	Name     string        `yaml:"name"`
	Category string        `yaml:"category"`
	Executor string        `yaml:"executor"`
	Tags     []string      `yaml:"tags"`
	Timeout  time.Duration `yaml:"timeout"`
	Retry    *RetryConfig  `yaml:"retry"`
	Tests    []TestConfig  `yaml:"tests"`
}

// RetryConfig is the on-disk form of a retry policy. Unset fields inherit.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Backoff     string        `yaml:"backoff"`
	Delay       time.Duration `yaml:"delay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
}

// TestConfig is one test entry. Unknown keys end up in Spec.
type TestConfig struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Category    string         `yaml:"category"`
	Executor    string         `yaml:"executor"`
	Tags        []string       `yaml:"tags"`
	Timeout     time.Duration  `yaml:"timeout"`
	Retry       *RetryConfig   `yaml:"retry"`
	Skip        bool           `yaml:"skip"`
	Spec        map[string]any `yaml:",inline"`
}

// Defaults apply to tests that neither they nor their suite configure.
type Defaults struct {
	Category model.Category
	Executor string
	Timeout  time.Duration
	Retry    model.RetryPolicy
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Parse decodes suite YAML. path is recorded as the unit source and used to
// derive a suite name when the file has none.
func Parse(data []byte, path string, defaults Defaults) ([]*model.TestUnit, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	suiteName := f.Name
	if suiteName == "" {
		base := filepath.Base(path)
		for _, ext := range Extensions {
			base = strings.TrimSuffix(base, ext)
		}
		suiteName = base
	}

	suiteRetry, err := applyRetry(defaults.Retry, f.Retry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	var units []*model.TestUnit
	for i, t := range f.Tests {
		if t.Skip {
			continue
		}
		u, err := buildUnit(suiteName, path, i, &f, &t, defaults, suiteRetry)
		if err != nil {
			return nil, fmt.Errorf("%s: test %d: %w", path, i+1, err)
		}
		units = append(units, u)
	}
	return units, nil
}

func buildUnit(suiteName, path string, index int, f *File, t *TestConfig, defaults Defaults, suiteRetry model.RetryPolicy) (*model.TestUnit, error) {
	u := &model.TestUnit{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Executor:    firstNonEmpty(t.Executor, f.Executor, defaults.Executor),
		Timeout:     firstDuration(t.Timeout, f.Timeout, defaults.Timeout),
		Spec:        t.Spec,
		Source:      path,
	}
	if u.ID == "" {
		name := slug(t.Name)
		if name == "" {
			name = fmt.Sprintf("test-%d", index+1)
		}
		u.ID = slug(suiteName) + "/" + name
	}
	if u.Executor == "" {
		return nil, fmt.Errorf("unit %s has no executor", u.ID)
	}

	category := firstNonEmpty(t.Category, f.Category, string(defaults.Category))
	if category == "" {
		return nil, fmt.Errorf("unit %s has no category", u.ID)
	}
	c, err := model.ParseCategory(category)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", u.ID, err)
	}
	u.Category = c

	u.Retry, err = applyRetry(suiteRetry, t.Retry)
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", u.ID, err)
	}

	u.Tags = mergeTags(f.Tags, t.Tags)
	return u, nil
}

func applyRetry(base model.RetryPolicy, rc *RetryConfig) (model.RetryPolicy, error) {
	if rc == nil {
		return base, nil
	}
	p := base
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = rc.MaxAttempts
	}
	if rc.Backoff != "" {
		kind, err := model.ParseBackoffKind(rc.Backoff)
		if err != nil {
			return p, err
		}
		p.Backoff.Kind = kind
	}
	if rc.Delay > 0 {
		p.Backoff.Base = rc.Delay
	}
	if rc.MaxDelay > 0 {
		p.Backoff.Max = rc.MaxDelay
	}
	return p, nil
}

// LoadFile reads and parses one suite file.
func LoadFile(path string, defaults Defaults) ([]*model.TestUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite: %w", err)
	}
	return Parse(data, path, defaults)
}

// Discover expands directories into the suite files they contain, sorted by
// path. Files given explicitly are kept regardless of their extension.
func Discover(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("accessing %s: %w", p, err)
		}
		if !info.IsDir() {
			add(p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if name := d.Name(); path != p && (strings.HasPrefix(name, ".") || name == "node_modules") {
					return filepath.SkipDir
				}
				return nil
			}
			if IsSuiteFile(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", p, err)
		}
		sort.Strings(found)
		for _, f := range found {
			add(f)
		}
	}
	return files, nil
}

// IsSuiteFile reports whether path has a suite extension.
func IsSuiteFile(path string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// Load discovers and parses every suite under paths. Unit ids must be unique
// across all files.
func Load(paths []string, defaults Defaults) ([]*model.TestUnit, error) {
	files, err := Discover(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no suite files found in %s", strings.Join(paths, ", "))
	}

	var units []*model.TestUnit
	origin := make(map[string]string)
	for _, f := range files {
		loaded, err := LoadFile(f, defaults)
		if err != nil {
			return nil, err
		}
		for _, u := range loaded {
			if prev, dup := origin[u.ID]; dup {
				return nil, fmt.Errorf("%w (in %s and %s)", &model.DuplicateUnitError{ID: u.ID}, prev, f)
			}
			origin[u.ID] = f
			units = append(units, u)
		}
	}
	return units, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func mergeTags(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, l := range lists {
		for _, t := range l {
			if t != "" && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

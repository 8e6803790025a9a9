package bugreport

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/qarun/packages/core/aggregate"
	"github.com/abdul-hamid-achik/qarun/packages/core/model"
)

// fingerprintLen is the number of hex characters kept from the digest.
const fingerprintLen = 16

// BugReport is one ticket. It is never modified after Generate returns.
type BugReport struct {
	ID             string              `json:"id"`
	Fingerprint    string              `json:"fingerprint"`
	Title          string              `json:"title"`
	UnitID         string              `json:"unitId"`
	Category       model.Category      `json:"category"`
	Severity       Severity            `json:"severity"`
	Priority       string              `json:"priority"`
	Status         string              `json:"status"`
	OutcomeStatus  model.Status        `json:"outcomeStatus"`
	Steps          []string            `json:"steps"`
	Expected       string              `json:"expected"`
	Actual         string              `json:"actual"`
	FailureMessage string              `json:"failureMessage"`
	Trace          string              `json:"trace,omitempty"`
	Environment    Environment         `json:"environment"`
	Artifacts      []model.ArtifactRef `json:"artifacts,omitempty"`
	Occurrences    int                 `json:"occurrences"`
	Units          []string            `json:"units"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// Generator derives bug reports from a result set.
type Generator struct {
	rules     []Rule
	elevation []string
	env       Environment
}

type Option func(*Generator)

// WithRules replaces the default normalization rules.
func WithRules(rules []Rule) Option {
	return func(g *Generator) {
		g.rules = rules
	}
}

// WithElevationRules replaces the default elevation substrings.
func WithElevationRules(rules []string) Option {
	return func(g *Generator) {
		g.elevation = rules
	}
}

// WithEnvironment sets the snapshot attached to every report.
func WithEnvironment(env Environment) Option {
	return func(g *Generator) {
		g.env = env
	}
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		rules:     DefaultRules(),
		elevation: DefaultElevationRules,
		env:       Environment{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fingerprint hashes a category and a normalized message.
func Fingerprint(c model.Category, normalized string) string {
	sum := sha256.Sum256([]byte(string(c) + "\x00" + normalized))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// Fingerprint returns the fingerprint the generator would give a failure.
func (g *Generator) Fingerprint(c model.Category, message string) string {
	return Fingerprint(c, Normalize(message, g.rules))
}

// Generate returns one report per distinct fingerprint among fail and error
// outcomes, ordered by first appearance in submission order.
func (g *Generator) Generate(rs *aggregate.ResultSet) []*BugReport {
	var reports []*BugReport
	byFingerprint := make(map[string]*BugReport)

	for _, o := range rs.Submitted() {
		if o.Status() != model.StatusFail && o.Status() != model.StatusError {
			continue
		}

		unit := o.Unit()
		msg := o.FailureMessage()
		if msg == "" {
			msg = fmt.Sprintf("unit ended with status %s", o.Status())
		}
		fp := g.Fingerprint(unit.Category, msg)
		severity := ClassifySeverity(unit.Category, msg, g.elevation)

		if r, ok := byFingerprint[fp]; ok {
			r.Occurrences++
			r.Units = append(r.Units, unit.ID)
			r.Severity = r.Severity.Higher(severity)
			r.Priority = r.Severity.Priority()
			continue
		}

		r := &BugReport{
			ID:             "BUG-" + fp,
			Fingerprint:    fp,
			Title:          "Test Failure: " + unit.DisplayName(),
			UnitID:         unit.ID,
			Category:       unit.Category,
			Severity:       severity,
			Priority:       severity.Priority(),
			Status:         "Open",
			OutcomeStatus:  o.Status(),
			Expected:       "Test should pass without errors",
			Actual:         "Test failed with error: " + msg,
			FailureMessage: msg,
			Environment:    g.env.clone(),
			Occurrences:    1,
			Units:          []string{unit.ID},
			CreatedAt:      rs.FinishedAt,
		}
		if rs.RunID != "" {
			r.Environment["run_id"] = rs.RunID
		}

		if a, ok := o.FailingAttempt(); ok {
			r.Steps = append([]string(nil), a.Steps...)
			r.Artifacts = append([]model.ArtifactRef(nil), a.Artifacts...)
			if a.Failure != nil {
				r.Trace = a.Failure.Trace
			}
		}
		if len(r.Steps) == 0 {
			r.Steps = []string{msg}
		}

		byFingerprint[fp] = r
		reports = append(reports, r)
	}
	return reports
}

// Package scoring computes the compatibility between a curriculum snapshot
// and a job requirement.
//
// The overall score is a weighted sum of four components, each in [0,1]:
//
//	skills      Σ importance(matched skills) / Σ importance(required skills)
//	experience  min(candidate years / required years, 1)
//	education   1 if highest academic level >= required, else 0
//	seniority   1 if profile seniority >= required, else 0
//
// normalized to [0,100]. An Engine holds only immutable configuration and is
// safe for concurrent use.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"jobmate/analysis-service/internal/curriculum"
	"jobmate/analysis-service/internal/requirement"
)

// ErrInvalidResult is returned when a computed result fails its own sanity
// checks. It is distinct from data errors so operators can tell them apart.
var ErrInvalidResult = errors.New("invalid scoring result")

// Criterion names used in Result.Breakdown and Result.Unmet.
const (
	CriterionSkills     = "skills"
	CriterionExperience = "experience"
	CriterionEducation  = "education"
	CriterionSeniority  = "seniority"

	skillPrefix = "skill:"
)

// Weights is the relative importance of each component. They need not sum
// to 1; the engine normalizes them.
type Weights struct {
	Skills     float64 `mapstructure:"skills" json:"skills"`
	Experience float64 `mapstructure:"experience" json:"experience"`
	Education  float64 `mapstructure:"education" json:"education"`
	Seniority  float64 `mapstructure:"seniority" json:"seniority"`
}

// Thresholds decide when a component counts as met.
type Thresholds struct {
	Binary     float64 `mapstructure:"binary" json:"binary"`
	Continuous float64 `mapstructure:"continuous" json:"continuous"`
}

// Config configures an Engine.
type Config struct {
	Weights    Weights    `mapstructure:"weights" json:"weights"`
	Thresholds Thresholds `mapstructure:"thresholds" json:"thresholds"`
}

// DefaultConfig splits the weight equally and uses a pass threshold of 1.0
// for binary components and 0.5 for continuous ones.
func DefaultConfig() Config {
	return Config{
		Weights:    Weights{Skills: 0.25, Experience: 0.25, Education: 0.25, Seniority: 0.25},
		Thresholds: Thresholds{Binary: 1.0, Continuous: 0.5},
	}
}

// Validate reports configuration that would make scores meaningless.
func (c Config) Validate() error {
	w := c.Weights
	for name, v := range map[string]float64{
		CriterionSkills: w.Skills, CriterionExperience: w.Experience,
		CriterionEducation: w.Education, CriterionSeniority: w.Seniority,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("weight %s must be a non-negative number, got %v", name, v)
		}
	}
	if w.Skills+w.Experience+w.Education+w.Seniority == 0 {
		return errors.New("at least one weight must be positive")
	}
	for name, v := range map[string]float64{"binary": c.Thresholds.Binary, "continuous": c.Thresholds.Continuous} {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%s threshold must be within [0,1], got %v", name, v)
		}
	}
	return nil
}

// Criterion is one line of a result's breakdown. Weight is the share of the
// overall score the criterion controls; Contribution is the points it earned.
type Criterion struct {
	Matched      bool    `json:"matched"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Components holds the raw [0,1] value of each component.
type Components struct {
	Skills     float64 `json:"skills"`
	Experience float64 `json:"experience"`
	Education  float64 `json:"education"`
	Seniority  float64 `json:"seniority"`
}

// Result is the outcome of scoring one snapshot against one requirement.
type Result struct {
	Score      float64              `json:"score"`
	Components Components           `json:"components"`
	Breakdown  map[string]Criterion `json:"breakdown"`
	Unmet      []string             `json:"unmet"`
}

// Validate checks the invariants every stored result must satisfy.
func (r Result) Validate() error {
	if math.IsNaN(r.Score) || r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("%w: score %v outside [0,100]", ErrInvalidResult, r.Score)
	}
	if len(r.Breakdown) == 0 {
		return fmt.Errorf("%w: empty breakdown", ErrInvalidResult)
	}
	for name, c := range r.Breakdown {
		if math.IsNaN(c.Contribution) || math.IsNaN(c.Weight) {
			return fmt.Errorf("%w: criterion %s is not a number", ErrInvalidResult, name)
		}
	}
	return nil
}

// Engine scores snapshots against requirements.
type Engine struct {
	cfg   Config
	total float64
}

// NewEngine validates cfg and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	w := cfg.Weights
	return &Engine{cfg: cfg, total: w.Skills + w.Experience + w.Education + w.Seniority}, nil
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Score compares snap with req. It is deterministic: open-ended experience
// is measured up to snap.TakenAt, never the wall clock.
func (e *Engine) Score(snap curriculum.Snapshot, req requirement.Requirement) (Result, error) {
	res := Result{
		Breakdown: make(map[string]Criterion, len(req.Skills)+3),
		Unmet:     []string{},
	}
	share := func(w float64) float64 { return w / e.total }

	// Skills.
	skillsShare := share(e.cfg.Weights.Skills)
	if len(req.Skills) == 0 {
		res.Components.Skills = 1
		res.Breakdown[CriterionSkills] = Criterion{
			Matched:      true,
			Weight:       roundShare(skillsShare),
			Contribution: round(100 * skillsShare),
		}
	} else {
		var totalImportance, matchedImportance float64
		for _, s := range req.Skills {
			totalImportance += s.Importance
		}
		for _, s := range req.Skills {
			p, ok := snap.SkillProficiency(s.Name)
			matched := ok && p >= s.MinProficiency
			w := skillsShare * s.Importance / totalImportance
			c := Criterion{Matched: matched, Weight: roundShare(w)}
			if matched {
				matchedImportance += s.Importance
				c.Contribution = round(100 * w)
			} else {
				res.Unmet = append(res.Unmet, s.Name)
			}
			res.Breakdown[skillPrefix+s.Name] = c
		}
		res.Components.Skills = matchedImportance / totalImportance
	}

	// Experience.
	years := float64(snap.ExperienceMonths()) / 12
	switch {
	case req.MinExperienceYears == 0:
		res.Components.Experience = 1
	default:
		res.Components.Experience = math.Min(years/req.MinExperienceYears, 1)
	}
	e.addComponent(&res, CriterionExperience, share(e.cfg.Weights.Experience), res.Components.Experience, e.cfg.Thresholds.Continuous)

	// Education.
	if snap.HighestEducation() >= req.Education {
		res.Components.Education = 1
	}
	e.addComponent(&res, CriterionEducation, share(e.cfg.Weights.Education), res.Components.Education, e.cfg.Thresholds.Binary)

	// Seniority.
	if snap.Profile.Seniority >= req.Seniority {
		res.Components.Seniority = 1
	}
	e.addComponent(&res, CriterionSeniority, share(e.cfg.Weights.Seniority), res.Components.Seniority, e.cfg.Thresholds.Binary)

	total := 100 * (skillsShare*res.Components.Skills +
		share(e.cfg.Weights.Experience)*res.Components.Experience +
		share(e.cfg.Weights.Education)*res.Components.Education +
		share(e.cfg.Weights.Seniority)*res.Components.Seniority)
	res.Score = round(math.Max(0, math.Min(100, total)))

	if err := res.Validate(); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) addComponent(res *Result, name string, weight, value, threshold float64) {
	matched := value >= threshold
	res.Breakdown[name] = Criterion{
		Matched:      matched,
		Weight:       roundShare(weight),
		Contribution: round(100 * weight * value),
	}
	if !matched {
		res.Unmet = append(res.Unmet, name)
	}
}

// round keeps two decimals for points.
func round(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundShare(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

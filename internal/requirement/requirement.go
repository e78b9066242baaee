// Package requirement normalizes a job posting's free-form requirement
// document into a structure the scoring engine can compare against.
package requirement

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/xeipuuv/gojsonschema"

	"jobmate/analysis-service/internal/level"
)

var (
	// ErrInvalidRequirementData is returned for postings whose requirements
	// are absent or malformed. The job is retried up to its attempt limit
	// since the posting may be corrected in the meantime.
	ErrInvalidRequirementData = errors.New("invalid requirement data")

	// ErrJobUnavailable is returned when the posting cannot be read.
	ErrJobUnavailable = errors.New("job data unavailable")
)

//go:embed schema.json
var schemaJSON []byte

var schema = mustSchema(schemaJSON)

// Skill is one required skill.
type Skill struct {
	Name           string            `json:"name"`
	MinProficiency level.Proficiency `json:"minProficiency"`
	Importance     float64           `json:"importance"`
}

// Requirement is the comparable form of a job posting's requirements.
type Requirement struct {
	JobID              string          `json:"jobId"`
	Skills             []Skill         `json:"skills"`
	MinExperienceYears float64         `json:"minExperienceYears"`
	Education          level.Education `json:"education"`
	Seniority          level.Seniority `json:"seniority"`
}

// Posting is the raw job posting as stored by the jobs CRUD layer.
type Posting struct {
	JobID        string
	Requirements []byte // JSON document
}

// Source is the data-access collaborator owning job postings.
type Source interface {
	JobRequirements(ctx context.Context, jobID string) (*Posting, error)
}

// Model loads and normalizes job requirements.
type Model struct {
	src Source
}

// NewModel returns a Model reading postings from src.
func NewModel(src Source) *Model {
	return &Model{src: src}
}

// Load fetches the posting for jobID and normalizes it.
func (m *Model) Load(ctx context.Context, jobID string) (Requirement, error) {
	p, err := m.src.JobRequirements(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrInvalidRequirementData) {
			return Requirement{}, err
		}
		return Requirement{}, fmt.Errorf("%w: job %s: %v", ErrJobUnavailable, jobID, err)
	}
	if p == nil {
		return Requirement{}, fmt.Errorf("%w: job %s not found", ErrJobUnavailable, jobID)
	}
	return Normalize(p.JobID, p.Requirements)
}

type rawSkill struct {
	Name           string  `json:"name"`
	MinProficiency string  `json:"minProficiency"`
	Importance     float64 `json:"importance"`
}

type rawDocument struct {
	Skills          []any    `json:"skills"`
	ExperienceYears *float64 `json:"experienceYears"`
	Education       string   `json:"education"`
	Seniority       string   `json:"seniority"`
}

// Normalize validates a requirement document and converts it to a
// Requirement. It is a pure function.
func Normalize(jobID string, doc []byte) (Requirement, error) {
	if len(doc) == 0 {
		return Requirement{}, invalid("job %s has no requirements", jobID)
	}

	res, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return Requirement{}, invalid("job %s: %v", jobID, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return Requirement{}, invalid("job %s: %s", jobID, strings.Join(msgs, "; "))
	}

	var generic map[string]any
	if err := json.Unmarshal(doc, &generic); err != nil {
		return Requirement{}, invalid("job %s: %v", jobID, err)
	}

	var raw rawDocument
	if err := decode(generic, &raw); err != nil {
		return Requirement{}, invalid("job %s: %v", jobID, err)
	}

	if raw.ExperienceYears == nil {
		return Requirement{}, invalid("job %s: experienceYears is required", jobID)
	}
	years := *raw.ExperienceYears
	if years < 0 || math.IsNaN(years) || math.IsInf(years, 0) {
		return Requirement{}, invalid("job %s: experienceYears must be a non-negative number, got %v", jobID, years)
	}

	req := Requirement{
		JobID:              jobID,
		Skills:             make([]Skill, 0, len(raw.Skills)),
		MinExperienceYears: years,
	}

	if req.Education, err = level.ParseEducation(raw.Education); err != nil {
		return Requirement{}, invalid("job %s: %v", jobID, err)
	}
	if req.Seniority, err = level.ParseSeniority(raw.Seniority); err != nil {
		return Requirement{}, invalid("job %s: %v", jobID, err)
	}

	seen := make(map[string]int, len(raw.Skills))
	for i, item := range raw.Skills {
		s, err := normalizeSkill(item)
		if err != nil {
			return Requirement{}, invalid("job %s: skill %d: %v", jobID, i, err)
		}
		key := strings.ToLower(s.Name)
		if at, dup := seen[key]; dup {
			// Keep the first spelling, the strictest proficiency and the
			// largest importance.
			if s.MinProficiency > req.Skills[at].MinProficiency {
				req.Skills[at].MinProficiency = s.MinProficiency
			}
			req.Skills[at].Importance = math.Max(req.Skills[at].Importance, s.Importance)
			continue
		}
		seen[key] = len(req.Skills)
		req.Skills = append(req.Skills, s)
	}

	return req, nil
}

func normalizeSkill(item any) (Skill, error) {
	var raw rawSkill
	switch v := item.(type) {
	case string:
		raw.Name = v
	case map[string]any:
		if err := decode(v, &raw); err != nil {
			return Skill{}, err
		}
	default:
		return Skill{}, fmt.Errorf("unsupported skill entry %T", item)
	}

	name := strings.Join(strings.Fields(raw.Name), " ")
	if name == "" {
		return Skill{}, errors.New("skill name is empty")
	}

	prof, err := level.ParseProficiency(raw.MinProficiency)
	if err != nil {
		return Skill{}, err
	}

	importance := raw.Importance
	switch {
	case importance == 0:
		importance = 1
	case importance < 0 || math.IsNaN(importance) || math.IsInf(importance, 0):
		return Skill{}, fmt.Errorf("importance of %q must be positive, got %v", name, raw.Importance)
	}

	return Skill{Name: name, MinProficiency: prof, Importance: importance}, nil
}

func decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequirementData, fmt.Sprintf(format, args...))
}

func mustSchema(b []byte) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		panic(fmt.Sprintf("requirement: invalid embedded schema: %v", err))
	}
	return s
}

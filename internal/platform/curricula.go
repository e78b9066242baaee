package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"jobmate/analysis-service/internal/curriculum"
	"jobmate/analysis-service/internal/level"
)

// Curricula implements curriculum.Source.
type Curricula struct {
	db Querier
}

// NewCurricula returns a Curricula reading from db.
func NewCurricula(db Querier) *Curricula {
	return &Curricula{db: db}
}

var _ curriculum.Source = (*Curricula)(nil)

// AcademicBackground returns the candidate's academic records.
func (c *Curricula) AcademicBackground(ctx context.Context, candidateID string) ([]curriculum.AcademicRecord, error) {
	rows, err := c.db.Query(ctx,
		`SELECT institution, degree, COALESCE(field, ''), COALESCE(level, ''), COALESCE(completion_year, 0)
		 FROM academic_records
		 WHERE candidate_id = $1`,
		candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("academic records query: %w", err)
	}
	defer rows.Close()

	records := make([]curriculum.AcademicRecord, 0)
	for rows.Next() {
		var (
			r   curriculum.AcademicRecord
			lvl string
		)
		if err := rows.Scan(&r.Institution, &r.Degree, &r.Field, &lvl, &r.CompletionYear); err != nil {
			return nil, fmt.Errorf("academic records scan: %w", err)
		}
		if r.Level, err = level.ParseEducation(lvl); err != nil {
			return nil, fmt.Errorf("%w: academic record %q: %v", curriculum.ErrDataUnavailable, r.Degree, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Experience returns the candidate's professional experiences.
func (c *Curricula) Experience(ctx context.Context, candidateID string) ([]curriculum.Experience, error) {
	rows, err := c.db.Query(ctx,
		`SELECT company, role, start_date, end_date, COALESCE(description, '')
		 FROM experiences
		 WHERE candidate_id = $1`,
		candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("experiences query: %w", err)
	}
	defer rows.Close()

	exps := make([]curriculum.Experience, 0)
	for rows.Next() {
		var (
			e     curriculum.Experience
			start *time.Time
		)
		if err := rows.Scan(&e.Company, &e.Role, &start, &e.End, &e.Description); err != nil {
			return nil, fmt.Errorf("experiences scan: %w", err)
		}
		if start != nil {
			e.Start = *start
		}
		exps = append(exps, e)
	}
	return exps, rows.Err()
}

// Courses returns the candidate's completed courses.
func (c *Curricula) Courses(ctx context.Context, candidateID string) ([]curriculum.Course, error) {
	rows, err := c.db.Query(ctx,
		`SELECT name, COALESCE(hours, 0), completed_at
		 FROM courses
		 WHERE candidate_id = $1`,
		candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("courses query: %w", err)
	}
	defer rows.Close()

	courses := make([]curriculum.Course, 0)
	for rows.Next() {
		var (
			co        curriculum.Course
			completed *time.Time
		)
		if err := rows.Scan(&co.Name, &co.Hours, &completed); err != nil {
			return nil, fmt.Errorf("courses scan: %w", err)
		}
		// Courses still in progress have no completion date.
		if completed != nil {
			co.CompletedAt = *completed
		}
		courses = append(courses, co)
	}
	return courses, rows.Err()
}

// Profile returns the candidate's profile, or nil when none exists.
func (c *Curricula) Profile(ctx context.Context, candidateID string) (*curriculum.Profile, error) {
	var (
		p         curriculum.Profile
		skills    []byte
		seniority string
	)
	err := c.db.QueryRow(ctx,
		`SELECT COALESCE(headline, ''), skills, COALESCE(seniority, '')
		 FROM profiles
		 WHERE candidate_id = $1`,
		candidateID,
	).Scan(&p.Headline, &skills, &seniority)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile query: %w", err)
	}

	if p.Skills, err = DecodeSkills(skills); err != nil {
		return nil, fmt.Errorf("%w: profile of %s: %v", curriculum.ErrDataUnavailable, candidateID, err)
	}
	if p.Seniority, err = level.ParseSeniority(seniority); err != nil {
		return nil, fmt.Errorf("%w: profile of %s: %v", curriculum.ErrDataUnavailable, candidateID, err)
	}
	return &p, nil
}

// DecodeSkills decodes the profiles.skills JSONB column. It accepts an
// object mapping skill to proficiency, or an array of skill names (each
// then held at BASIC).
func DecodeSkills(raw []byte) (map[string]level.Proficiency, error) {
	skills := make(map[string]level.Proficiency)
	if len(raw) == 0 || string(raw) == "null" {
		return skills, nil
	}

	if raw[0] == '[' {
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return nil, fmt.Errorf("decode skills: %w", err)
		}
		for _, n := range names {
			if n != "" {
				skills[n] = level.ProficiencyBasic
			}
		}
		return skills, nil
	}

	if err := json.Unmarshal(raw, &skills); err != nil {
		return nil, fmt.Errorf("decode skills: %w", err)
	}
	return skills, nil
}

// Package curriculum assembles immutable snapshots of a candidate's
// curriculum at the moment an application is analysed.
package curriculum

import (
	"strings"
	"time"

	"jobmate/analysis-service/internal/level"
)

// AcademicRecord is one entry of a candidate's academic background.
type AcademicRecord struct {
	Institution    string          `json:"institution"`
	Degree         string          `json:"degree"`
	Field          string          `json:"field"`
	Level          level.Education `json:"level"`
	CompletionYear int             `json:"completionYear"`
}

// Experience is one professional experience. A nil End means the position
// is still held.
type Experience struct {
	Company     string     `json:"company"`
	Role        string     `json:"role"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	Description string     `json:"description"`
}

// Course is a professional course the candidate completed.
type Course struct {
	Name        string    `json:"name"`
	Hours       int       `json:"hours"`
	CompletedAt time.Time `json:"completedAt"`
}

// Profile is the candidate's professional profile.
type Profile struct {
	Headline  string                       `json:"headline"`
	Skills    map[string]level.Proficiency `json:"skills"`
	Seniority level.Seniority              `json:"seniority"`
}

// Snapshot is a point-in-time copy of a candidate's curriculum.
// It shares no memory with the data it was built from.
type Snapshot struct {
	CandidateID string           `json:"candidateId"`
	TakenAt     time.Time        `json:"takenAt"`
	Academic    []AcademicRecord `json:"academic"`
	Experience  []Experience     `json:"experience"`
	Courses     []Course         `json:"courses"`
	Profile     Profile          `json:"profile"`
}

// HighestEducation returns the highest level across all academic records.
func (s Snapshot) HighestEducation() level.Education {
	best := level.EducationNone
	for _, r := range s.Academic {
		if r.Level > best {
			best = r.Level
		}
	}
	return best
}

// SkillProficiency looks a skill up case-insensitively. When the profile
// lists the same skill under several spellings the highest proficiency
// wins.
func (s Snapshot) SkillProficiency(skill string) (level.Proficiency, bool) {
	want := strings.ToLower(strings.TrimSpace(skill))
	best, found := level.ProficiencyNone, false
	for name, p := range s.Profile.Skills {
		if strings.ToLower(strings.TrimSpace(name)) != want {
			continue
		}
		if !found || p > best {
			best = p
		}
		found = true
	}
	return best, found
}

// ExperienceMonths sums the whole months of every experience. Open-ended
// positions count up to the snapshot's TakenAt.
func (s Snapshot) ExperienceMonths() int {
	total := 0
	for _, e := range s.Experience {
		end := s.TakenAt
		if e.End != nil {
			end = *e.End
		}
		total += monthsBetween(e.Start, end)
	}
	return total
}

func monthsBetween(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	months := (end.Year()-start.Year())*12 + int(end.Month()-start.Month())
	if end.Day() < start.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Academic = append([]AcademicRecord(nil), s.Academic...)
	out.Courses = append([]Course(nil), s.Courses...)
	out.Experience = make([]Experience, len(s.Experience))
	for i, e := range s.Experience {
		out.Experience[i] = e
		if e.End != nil {
			end := *e.End
			out.Experience[i].End = &end
		}
	}
	out.Profile.Skills = make(map[string]level.Proficiency, len(s.Profile.Skills))
	for k, v := range s.Profile.Skills {
		out.Profile.Skills[k] = v
	}
	return out
}

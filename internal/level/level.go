// Package level defines the ordinal schemes used to compare a candidate's
// curriculum against a job's requirements.
//
//	Education:   NONE < SECONDARY < UNDERGRADUATE < GRADUATE < POSTGRADUATE
//	Seniority:   NONE < INTERN < JUNIOR < MID < SENIOR < LEAD
//	Proficiency: NONE < BASIC < INTERMEDIATE < ADVANCED < EXPERT
//
// The zero value of every scheme is NONE, so a missing field never
// out-ranks a stated requirement.
package level

import (
	"fmt"
	"strings"
)

// Education is the highest academic level a record attests.
type Education int

const (
	EducationNone Education = iota
	EducationSecondary
	EducationUndergraduate
	EducationGraduate
	EducationPostgraduate
)

var educationNames = []string{"NONE", "SECONDARY", "UNDERGRADUATE", "GRADUATE", "POSTGRADUATE"}

// educationAliases maps the spellings found in job postings and curricula.
var educationAliases = map[string]Education{
	"HIGH_SCHOOL": EducationSecondary,
	"BACHELOR":    EducationUndergraduate,
	"BACHELORS":   EducationUndergraduate,
	"LICENCE":     EducationUndergraduate,
	"MASTER":      EducationGraduate,
	"MASTERS":     EducationGraduate,
	"MBA":         EducationGraduate,
	"PHD":         EducationPostgraduate,
	"DOCTORATE":   EducationPostgraduate,
}

// Seniority is the career stage stated in a profile or required by a job.
type Seniority int

const (
	SeniorityNone Seniority = iota
	SeniorityIntern
	SeniorityJunior
	SeniorityMid
	SenioritySenior
	SeniorityLead
)

var seniorityNames = []string{"NONE", "INTERN", "JUNIOR", "MID", "SENIOR", "LEAD"}

var seniorityAliases = map[string]Seniority{
	"TRAINEE":   SeniorityIntern,
	"ENTRY":     SeniorityJunior,
	"MIDDLE":    SeniorityMid,
	"PLENO":     SeniorityMid,
	"SR":        SenioritySenior,
	"STAFF":     SeniorityLead,
	"PRINCIPAL": SeniorityLead,
}

// Proficiency is how well a candidate masters a skill.
type Proficiency int

const (
	ProficiencyNone Proficiency = iota
	ProficiencyBasic
	ProficiencyIntermediate
	ProficiencyAdvanced
	ProficiencyExpert
)

var proficiencyNames = []string{"NONE", "BASIC", "INTERMEDIATE", "ADVANCED", "EXPERT"}

var proficiencyAliases = map[string]Proficiency{
	"BEGINNER": ProficiencyBasic,
	"NOVICE":   ProficiencyBasic,
}

func (e Education) String() string   { return name(educationNames, int(e)) }
func (s Seniority) String() string   { return name(seniorityNames, int(s)) }
func (p Proficiency) String() string { return name(proficiencyNames, int(p)) }

// ParseEducation converts free-form text to an Education level.
// The empty string is EducationNone.
func ParseEducation(s string) (Education, error) {
	v, err := parse(s, educationNames, educationAliases, "education")
	return Education(v), err
}

// ParseSeniority converts free-form text to a Seniority level.
// The empty string is SeniorityNone.
func ParseSeniority(s string) (Seniority, error) {
	v, err := parse(s, seniorityNames, seniorityAliases, "seniority")
	return Seniority(v), err
}

// ParseProficiency converts free-form text to a Proficiency level.
// The empty string is ProficiencyNone.
func ParseProficiency(s string) (Proficiency, error) {
	v, err := parse(s, proficiencyNames, proficiencyAliases, "proficiency")
	return Proficiency(v), err
}

func (e Education) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *Education) UnmarshalText(b []byte) error {
	v, err := ParseEducation(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

func (s Seniority) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Seniority) UnmarshalText(b []byte) error {
	v, err := ParseSeniority(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (p Proficiency) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Proficiency) UnmarshalText(b []byte) error {
	v, err := ParseProficiency(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func name(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return fmt.Sprintf("LEVEL(%d)", i)
	}
	return names[i]
}

func parse[T ~int](s string, names []string, aliases map[string]T, kind string) (int, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if key == "" {
		return 0, nil
	}
	for i, n := range names {
		if n == key {
			return i, nil
		}
	}
	if v, ok := aliases[key]; ok {
		return int(v), nil
	}
	return 0, fmt.Errorf("unknown %s level %q", kind, s)
}

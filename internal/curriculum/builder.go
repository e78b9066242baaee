package curriculum

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrDataUnavailable is returned when any part of a curriculum cannot be
// read. An incomplete curriculum is never scored.
var ErrDataUnavailable = errors.New("curriculum data unavailable")

// Source is the data-access collaborator owning live curriculum data.
type Source interface {
	AcademicBackground(ctx context.Context, candidateID string) ([]AcademicRecord, error)
	Experience(ctx context.Context, candidateID string) ([]Experience, error)
	Courses(ctx context.Context, candidateID string) ([]Course, error)
	Profile(ctx context.Context, candidateID string) (*Profile, error)
}

// Builder assembles Snapshots from a Source.
type Builder struct {
	src Source
	now func() time.Time
}

// NewBuilder returns a Builder reading from src.
func NewBuilder(src Source) *Builder {
	return &Builder{src: src, now: time.Now}
}

// WithClock overrides the time source used for TakenAt.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build fetches the four curriculum sub-resources concurrently and returns
// a detached Snapshot. Any failure wraps ErrDataUnavailable.
func (b *Builder) Build(ctx context.Context, candidateID string) (Snapshot, error) {
	if candidateID == "" {
		return Snapshot{}, fmt.Errorf("%w: empty candidate id", ErrDataUnavailable)
	}

	var (
		academic   []AcademicRecord
		experience []Experience
		courses    []Course
		profile    *Profile
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		academic, err = b.src.AcademicBackground(gctx, candidateID)
		return wrap("academic background", err)
	})
	g.Go(func() (err error) {
		experience, err = b.src.Experience(gctx, candidateID)
		return wrap("experience", err)
	})
	g.Go(func() (err error) {
		courses, err = b.src.Courses(gctx, candidateID)
		return wrap("courses", err)
	})
	g.Go(func() (err error) {
		profile, err = b.src.Profile(gctx, candidateID)
		if err == nil && profile == nil {
			return fmt.Errorf("%w: profile missing", ErrDataUnavailable)
		}
		return wrap("profile", err)
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	for i, e := range experience {
		if e.Start.IsZero() {
			return Snapshot{}, fmt.Errorf("%w: experience %d has no start date", ErrDataUnavailable, i)
		}
		if e.End != nil && e.End.Before(e.Start) {
			return Snapshot{}, fmt.Errorf("%w: experience %d ends before it starts", ErrDataUnavailable, i)
		}
	}

	snap := Snapshot{
		CandidateID: candidateID,
		TakenAt:     b.now().UTC(),
		Academic:    academic,
		Experience:  experience,
		Courses:     courses,
		Profile:     *profile,
	}.Clone()

	sort.SliceStable(snap.Academic, func(i, j int) bool {
		return snap.Academic[i].CompletionYear < snap.Academic[j].CompletionYear
	})
	sort.SliceStable(snap.Experience, func(i, j int) bool {
		return snap.Experience[i].Start.Before(snap.Experience[j].Start)
	})
	sort.SliceStable(snap.Courses, func(i, j int) bool {
		return snap.Courses[i].CompletedAt.Before(snap.Courses[j].CompletedAt)
	})

	return snap, nil
}

func wrap(what string, err error) error {
	if err == nil || errors.Is(err, ErrDataUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrDataUnavailable, what, err)
}

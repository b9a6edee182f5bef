package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Key used to check whether the store already holds data
const coursesPathForCheck = "courses"

// CheckAndSeed adds demo courses, students and enrollments when the store has no courses yet.
func CheckAndSeed(ctx context.Context, s Store, log *zap.Logger) error {
	snap, err := s.Get(ctx, coursesPathForCheck)
	if err != nil {
		// If we cannot check reliably, do not seed.
		return fmt.Errorf("could not check for existing data at %q: %w", coursesPathForCheck, err)
	}
	if snap.Exists() {
		log.Info("existing data found, skipping demo seed", zap.Int("courses", len(snap.Keys())))
		return nil
	}
	log.Info("no courses found, adding demo data")
	return seedInitialData(ctx, s)
}

// seedInitialData writes the demo records in one multi-path update.
func seedInitialData(ctx context.Context, s Store) error {
	courses := []map[string]any{
		{"name": "Backend Engineering with Go", "code": "CS201", "instructor": "Omar", "schedule": "Mon/Wed 10:00-11:30"},
		{"name": "Data Science Foundations", "code": "DS101", "instructor": "Mohamed", "schedule": "Tue/Thu 13:00-14:30"},
	}
	students := []map[string]any{
		{"name": "Alice", "email": "alice@school.com", "cohort": "2024", "campus": "Main", "school": "Engineering", "major": "CS"},
		{"name": "Bob", "email": "bob@school.com", "cohort": "2024", "campus": "Main", "school": "Engineering", "major": "CS"},
		{"name": "Charlie", "email": "charlie@school.com", "cohort": "2023", "campus": "North", "school": "Science", "major": "Statistics"},
	}

	updates := map[string]any{}
	courseIDs := make([]string, 0, len(courses))
	for _, c := range courses {
		id := s.NewID()
		courseIDs = append(courseIDs, id)
		updates[JoinPath("courses", id)] = c
	}
	for i, st := range students {
		id := s.NewID()
		updates[JoinPath("students", id)] = st
		// Everyone takes the first course, the last student also takes the second.
		updates[JoinPath("enrollments", courseIDs[0], id)] = true
		if i == len(students)-1 {
			updates[JoinPath("enrollments", courseIDs[1], id)] = true
		}
	}
	if err := s.Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to seed demo data: %w", err)
	}
	return nil
}

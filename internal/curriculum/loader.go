// Package curriculum loads lesson runtime descriptors (duration, objectives
// and remediation rules) from YAML files.
package curriculum

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrLessonNotFound is returned when no lesson has the requested ID.
var ErrLessonNotFound = errors.New("lesson not found")

//go:embed lesson.schema.json
var lessonSchemaJSON string

var lessonSchema = gojsonschema.NewStringLoader(lessonSchemaJSON)

// Loader loads and caches lessons from the filesystem.
type Loader struct {
	rootDir          string
	defaultThreshold float64
	lessons          map[string]Lesson
	issues           []Issue
	mu               sync.RWMutex
}

// NewLoader creates a loader and loads every *.lesson.yaml file under
// rootDir. Lessons that omit threshold_pct get defaultThreshold.
func NewLoader(rootDir string, defaultThreshold float64) (*Loader, error) {
	l := &Loader{
		rootDir:          rootDir,
		defaultThreshold: defaultThreshold,
		lessons:          make(map[string]Lesson),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading lessons: %w", err)
	}

	slog.Info("lessons loaded", "lessons", len(l.lessons), "issues", len(l.issues))
	return l, nil
}

// GetLesson returns a lesson by ID.
func (l *Loader) GetLesson(id string) (Lesson, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lesson, ok := l.lessons[id]
	return lesson, ok
}

// Lesson returns a lesson by ID or ErrLessonNotFound.
func (l *Loader) Lesson(id string) (Lesson, error) {
	lesson, ok := l.GetLesson(id)
	if !ok {
		return Lesson{}, fmt.Errorf("%w: %s", ErrLessonNotFound, id)
	}
	return lesson, nil
}

// AllLessons returns all loaded lessons sorted by ID.
func (l *Loader) AllLessons() []Lesson {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lessons := make([]Lesson, 0, len(l.lessons))
	for _, lesson := range l.lessons {
		lessons = append(lessons, lesson)
	}
	sort.Slice(lessons, func(i, j int) bool { return lessons[i].ID < lessons[j].ID })
	return lessons
}

// Issues returns the files that were skipped and why.
func (l *Loader) Issues() []Issue {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Issue{}, l.issues...)
}

func (l *Loader) loadAll() error {
	info, err := os.Stat(l.rootDir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", l.rootDir)
	}

	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if !isLessonFile(path) {
			return nil
		}

		lesson, err := LoadFile(path, l.defaultThreshold)
		if err != nil {
			slog.Warn("skipping invalid lesson file", "path", path, "error", err)
			l.addIssue(path, err)
			return nil
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if prev, dup := l.lessons[lesson.ID]; dup {
			err := fmt.Errorf("duplicate lesson id %q (first defined in %s)", lesson.ID, prev.Path)
			slog.Warn("skipping duplicate lesson", "path", path, "error", err)
			l.issues = append(l.issues, Issue{Path: path, Err: err})
			return nil
		}
		l.lessons[lesson.ID] = lesson
		return nil
	})
}

func (l *Loader) addIssue(path string, err error) {
	l.mu.Lock()
	l.issues = append(l.issues, Issue{Path: path, Err: err})
	l.mu.Unlock()
}

func isLessonFile(path string) bool {
	return strings.HasSuffix(path, ".lesson.yaml") || strings.HasSuffix(path, ".lesson.yml")
}

// LoadFile reads, validates and decodes a single lesson file. Rule
// conditions are compiled while decoding.
func LoadFile(path string, defaultThreshold float64) (Lesson, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lesson{}, fmt.Errorf("read lesson: %w", err)
	}
	lesson, err := Parse(data, defaultThreshold)
	if err != nil {
		return Lesson{}, err
	}
	lesson.Path = path
	return lesson, nil
}

// Parse decodes a lesson from YAML, validating it against the lesson schema.
func Parse(data []byte, defaultThreshold float64) (Lesson, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Lesson{}, fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return Lesson{}, fmt.Errorf("empty lesson document")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return Lesson{}, fmt.Errorf("convert lesson to json: %w", err)
	}

	result, err := gojsonschema.Validate(lessonSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Lesson{}, fmt.Errorf("validate lesson: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Lesson{}, fmt.Errorf("invalid lesson: %s", strings.Join(msgs, "; "))
	}

	var lesson Lesson
	if err := json.Unmarshal(raw, &lesson); err != nil {
		return Lesson{}, fmt.Errorf("decode lesson: %w", err)
	}
	if lesson.ThresholdPct <= 0 {
		lesson.ThresholdPct = defaultThreshold
	}
	return lesson, nil
}

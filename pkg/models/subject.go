package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSubject is returned for a subject_ref that does not parse or does not fit its kind.
var ErrInvalidSubject = errors.New("invalid subject reference")

const filePrefix = "file:"

// Subject is a parsed subject_ref: one or more file ids plus an optional grouping key.
//
// Wire form: file:<id>[,file:<id>...][#<group>]
type Subject struct {
	FileIDs  []string
	GroupKey string
}

// String renders the subject back into its wire form.
func (s Subject) String() string {
	parts := make([]string, len(s.FileIDs))
	for i, id := range s.FileIDs {
		parts[i] = filePrefix + id
	}
	out := strings.Join(parts, ",")
	if s.GroupKey != "" {
		out += "#" + s.GroupKey
	}
	return out
}

// ParseSubject parses a subject_ref.
func ParseSubject(ref string) (Subject, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Subject{}, fmt.Errorf("%w: empty", ErrInvalidSubject)
	}

	var s Subject
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		s.GroupKey = strings.TrimSpace(ref[i+1:])
		ref = ref[:i]
		if s.GroupKey == "" {
			return Subject{}, fmt.Errorf("%w: empty group key", ErrInvalidSubject)
		}
	}

	seen := make(map[string]bool)
	for _, part := range strings.Split(ref, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, filePrefix) {
			return Subject{}, fmt.Errorf("%w: %q must start with %q", ErrInvalidSubject, part, filePrefix)
		}
		id := strings.TrimSpace(strings.TrimPrefix(part, filePrefix))
		if id == "" {
			return Subject{}, fmt.Errorf("%w: empty file id", ErrInvalidSubject)
		}
		if seen[id] {
			return Subject{}, fmt.Errorf("%w: duplicate file id %q", ErrInvalidSubject, id)
		}
		seen[id] = true
		s.FileIDs = append(s.FileIDs, id)
	}
	return s, nil
}

// ValidateSubjectForKind parses ref and checks the file count expected by kind.
func ValidateSubjectForKind(ref string, kind JobKind) (Subject, error) {
	s, err := ParseSubject(ref)
	if err != nil {
		return Subject{}, err
	}
	switch kind {
	case JobKindGeneral, JobKindCustom, JobKindMultipleAI:
		if len(s.FileIDs) != 1 {
			return Subject{}, fmt.Errorf("%w: %s jobs take exactly one file, got %d", ErrInvalidSubject, kind, len(s.FileIDs))
		}
	case JobKindComparison:
		if len(s.FileIDs) < 2 {
			return Subject{}, fmt.Errorf("%w: comparison jobs need at least two files, got %d", ErrInvalidSubject, len(s.FileIDs))
		}
	default:
		return Subject{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidSubject, kind)
	}
	return s, nil
}

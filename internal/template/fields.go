package template

// DataField tags which remote-object kind a token (or a whole segment) is
// derived from. It mirrors studip_path.py's DataField enum.
type DataField int

const (
	// Semester is known when a segment's tokens only need semester data.
	Semester DataField = iota
	// Course additionally requires course data (and, transitively, the
	// course's semester).
	Course
	// File requires file metadata (and transitively its course/semester).
	File
)

func (d DataField) String() string {
	switch d {
	case Semester:
		return "Semester"
	case Course:
		return "Course"
	case File:
		return "File"
	default:
		return "Unknown"
	}
}

// semesterFields/courseFields/fileFields list every token name that
// requires at least that DataField to render, per spec.md §4.2.
var (
	semesterFields = map[string]bool{
		"semester": true, "semester-lexical": true, "semester-lexical-short": true,
	}
	courseFields = map[string]bool{
		"course": true, "course-abbrev": true, "course-id": true,
		"type": true, "type-abbrev": true, "class": true,
	}
	fileFields = map[string]bool{
		"path": true, "short-path": true, "id": true, "name": true,
		"description": true, "author": true, "created": true, "changed": true,
	}
)

// RequiredFields returns the set of DataFields a segment's tokens require,
// per the fixed field->DataField mapping in spec.md §4.2. The special
// "time" token requires Semester only when no other field in the segment
// already requires something, since any known object can provide a
// timestamp. Returns an error naming the offending field if the segment
// references a token with no known DataField.
func RequiredFields(segment string) (map[DataField]bool, error) {
	fields := FieldsInSegment(segment)
	required := make(map[DataField]bool)
	sawTime := false
	for _, f := range fields {
		switch {
		case semesterFields[f]:
			required[Semester] = true
		case courseFields[f]:
			required[Course] = true
		case fileFields[f]:
			required[File] = true
		case f == "time":
			sawTime = true
		default:
			return nil, &UnknownFieldError{Field: f, Segment: segment}
		}
	}
	if sawTime && len(required) == 0 {
		required[Semester] = true
	}
	return required, nil
}

// UnknownFieldError is returned by RequiredFields for a token name with no
// known DataField mapping.
type UnknownFieldError struct {
	Field   string
	Segment string
}

func (e *UnknownFieldError) Error() string {
	return "unknown format field name '" + e.Field + "' in format string '" + e.Segment + "'"
}

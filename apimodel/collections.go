package apimodel

import "encoding/json"

// Collection names, which double as the API selectors that list them.
var CollectionNames = []string{PathCourses, PathNotes, PathQuizzes}

// Collections is the per-user data set rendered by the app and persisted as
// the last known snapshot. Records are kept as raw JSON so fields the client
// does not know about survive a round trip.
type Collections struct {
	Courses []json.RawMessage `json:"courses"`
	Notes   []json.RawMessage `json:"notes"`
	Quizzes []json.RawMessage `json:"quizzes"`
}

// EmptyCollections has three empty, non-nil arrays.
func EmptyCollections() Collections {
	return Collections{
		Courses: []json.RawMessage{},
		Notes:   []json.RawMessage{},
		Quizzes: []json.RawMessage{},
	}
}

// Get returns the records of the named collection.
func (c Collections) Get(name string) []json.RawMessage {
	switch name {
	case PathCourses:
		return c.Courses
	case PathNotes:
		return c.Notes
	case PathQuizzes:
		return c.Quizzes
	}
	return nil
}

// Set replaces the records of the named collection. Unknown names are ignored.
func (c *Collections) Set(name string, records []json.RawMessage) {
	if records == nil {
		records = []json.RawMessage{}
	}
	switch name {
	case PathCourses:
		c.Courses = records
	case PathNotes:
		c.Notes = records
	case PathQuizzes:
		c.Quizzes = records
	}
}

// IsCollection reports whether name is one of the synced collections.
func IsCollection(name string) bool {
	for _, n := range CollectionNames {
		if n == name {
			return true
		}
	}
	return false
}

// Normalized replaces nil arrays with empty ones.
func (c Collections) Normalized() Collections {
	for _, name := range CollectionNames {
		c.Set(name, c.Get(name))
	}
	return c
}

// Clone deep copies the record slices.
func (c Collections) Clone() Collections {
	out := EmptyCollections()
	for _, name := range CollectionNames {
		src := c.Get(name)
		dst := make([]json.RawMessage, len(src))
		for i, rec := range src {
			dst[i] = append(json.RawMessage(nil), rec...)
		}
		out.Set(name, dst)
	}
	return out
}

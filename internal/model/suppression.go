package model

import "sort"

// DefaultSuppressedCodes are notifications that depend on the data in the
// target database rather than on the statement, so an empty audit instance
// raises them for almost every statement.
var DefaultSuppressedCodes = []string{
	"Neo.ClientNotification.Statement.UnknownPropertyKeyWarning",
	"Neo.ClientNotification.Statement.ParameterNotProvided",
	"Neo.ClientNotification.Statement.UnknownRelationshipTypeWarning",
	"Neo.ClientNotification.Statement.UnknownLabelWarning",
	"Neo.ClientNotification.Schema.HintedIndexNotFound",
}

// SuppressionSet is an immutable set of notification codes that never
// surface as deprecated rows
type SuppressionSet struct {
	codes map[string]struct{}
}

// NewSuppressionSet builds a set from codes; blanks are ignored
func NewSuppressionSet(codes ...string) SuppressionSet {
	m := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if c == "" {
			continue
		}
		m[c] = struct{}{}
	}
	return SuppressionSet{codes: m}
}

// DefaultSuppressionSet returns the set built from DefaultSuppressedCodes
func DefaultSuppressionSet() SuppressionSet {
	return NewSuppressionSet(DefaultSuppressedCodes...)
}

// Suppressed reports whether code is in the set
func (s SuppressionSet) Suppressed(code string) bool {
	_, ok := s.codes[code]
	return ok
}

// Len returns the number of codes
func (s SuppressionSet) Len() int {
	return len(s.codes)
}

// Codes returns the sorted member codes
func (s SuppressionSet) Codes() []string {
	out := make([]string, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

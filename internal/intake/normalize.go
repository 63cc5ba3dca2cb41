package intake

import (
	"strconv"
	"strings"
	"time"
)

// Submission is the canonical form of one delivery.
type Submission struct {
	// SubmissionID is the provider event id, else the provider submission
	// id, else the generation time in epoch millis.
	SubmissionID string
	// DedupeKeyReliable is false when SubmissionID fell back to a timestamp.
	DedupeKeyReliable bool
	SubmittedAt       time.Time

	CompanyName        *string
	FounderNames       *string
	FounderLinkedins   *string
	FounderBios        *string
	PrimaryEmail       *string
	CompanyDescription *string
	Website            *string
	PreviousFunding    *string
	DeckLink           *string

	Shapes []Shape
}

// Get returns the value of a canonical text field.
func (s Submission) Get(field Field) *string {
	switch field {
	case FieldCompanyName:
		return s.CompanyName
	case FieldFounderNames:
		return s.FounderNames
	case FieldFounderLinkedins:
		return s.FounderLinkedins
	case FieldFounderBios:
		return s.FounderBios
	case FieldPrimaryEmail:
		return s.PrimaryEmail
	case FieldCompanyDescription:
		return s.CompanyDescription
	case FieldWebsite:
		return s.Website
	case FieldPreviousFunding:
		return s.PreviousFunding
	case FieldDeckLink:
		return s.DeckLink
	default:
		return nil
	}
}

func (s *Submission) set(field Field, value *string) {
	switch field {
	case FieldCompanyName:
		s.CompanyName = value
	case FieldFounderNames:
		s.FounderNames = value
	case FieldFounderLinkedins:
		s.FounderLinkedins = value
	case FieldFounderBios:
		s.FounderBios = value
	case FieldPrimaryEmail:
		s.PrimaryEmail = value
	case FieldCompanyDescription:
		s.CompanyDescription = value
	case FieldWebsite:
		s.Website = value
	case FieldPreviousFunding:
		s.PreviousFunding = value
	case FieldDeckLink:
		s.DeckLink = value
	}
}

// Normalize maps a delivery to a Submission. It never fails: unknown keys are
// dropped, binary values are ignored, and an unusable submitDate falls back
// to now.
func Normalize(p Payload, now time.Time) Submission {
	extractions := extract(p)

	sub := Submission{SubmittedAt: now.UTC()}
	for _, ex := range extractions {
		sub.Shapes = append(sub.Shapes, ex.shape)
	}

	for _, spec := range applicationFields {
		sub.set(spec.field, resolveField(spec, extractions))
	}

	if id := resolveExact(eventIDKeys, extractions); id != nil {
		sub.SubmissionID, sub.DedupeKeyReliable = *id, true
	} else if id := resolveExact(submissionIDKeys, extractions); id != nil {
		sub.SubmissionID, sub.DedupeKeyReliable = *id, true
	} else {
		sub.SubmissionID = strconv.FormatInt(now.UnixMilli(), 10)
	}

	if raw := resolveExact(submitDateKeys, extractions); raw != nil {
		if millis, err := strconv.ParseInt(*raw, 10, 64); err == nil {
			if at := time.UnixMilli(millis).UTC(); usableSubmitTime(at) {
				sub.SubmittedAt = at
			}
		}
	}
	return sub
}

// usableSubmitTime bounds provider timestamps to years that encode as
// RFC 3339 and fit a timestamptz column.
func usableSubmitTime(at time.Time) bool {
	return at.Year() >= 1970 && at.Year() <= 9999
}

// resolveField tries, in order: a wrapper-prefixed exact id, an exact id in
// any other shape, then pattern matching over every key and label. The first
// non-empty value wins.
func resolveField(spec fieldSpec, extractions []extraction) *string {
	if value := resolveExact(spec.ids, extractions); value != nil {
		return value
	}
	for _, ex := range extractions {
		for _, c := range ex.candidates {
			if owner, known := knownIDs[strings.ToLower(c.key)]; known && owner != spec.field {
				continue
			}
			if spec.matchesPattern(c.key, c.label) {
				return nonBlank(c.value)
			}
		}
	}
	return nil
}

// knownIDs maps every exact field id (lowercased) to its owning field so
// pattern matching never steals another field's key. Metadata ids map to "".
var knownIDs = func() map[string]Field {
	ids := make(map[string]Field)
	for _, spec := range applicationFields {
		for _, id := range spec.ids {
			ids[strings.ToLower(id)] = spec.field
		}
	}
	for _, group := range [][]string{eventIDKeys, submissionIDKeys, submitDateKeys} {
		for _, id := range group {
			ids[strings.ToLower(id)] = ""
		}
	}
	return ids
}()

func resolveExact(ids []string, extractions []extraction) *string {
	for _, wrapped := range []bool{true, false} {
		for _, ex := range extractions {
			if (ex.shape == ShapeWrapped) != wrapped {
				continue
			}
			for _, id := range ids {
				if value, ok := ex.exact(id); ok {
					if v := nonBlank(value); v != nil {
						return v
					}
				}
			}
		}
	}
	return nil
}

func nonBlank(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

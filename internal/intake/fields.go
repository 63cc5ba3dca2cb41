package intake

import (
	"net/url"
	"strings"
)

type Field string

const (
	FieldCompanyName        Field = "company_name"
	FieldFounderNames       Field = "founder_names"
	FieldFounderLinkedins   Field = "founder_linkedins"
	FieldFounderBios        Field = "founder_bios"
	FieldPrimaryEmail       Field = "primary_email"
	FieldCompanyDescription Field = "company_description"
	FieldWebsite            Field = "website"
	FieldPreviousFunding    Field = "previous_funding"
	FieldDeckLink           Field = "deck_link"
)

// fieldSpec describes how one canonical field is located in a delivery.
// ids are exact JotForm field ids; patterns are matched against the folded
// key (lowercase, alphanumerics only) and against answer labels.
type fieldSpec struct {
	field    Field
	ids      []string
	patterns []string
}

// applicationFields is ordered; pattern matching walks it top to bottom so the
// more specific fields claim their keys first.
var applicationFields = []fieldSpec{
	{field: FieldCompanyName, ids: []string{"q29_companyName"}, patterns: []string{"companyname"}},
	{field: FieldFounderNames, ids: []string{"q26_typeA"}, patterns: []string{"foundernames", "foundername", "typea"}},
	{field: FieldFounderLinkedins, ids: []string{"q28_founderLinkedins"}, patterns: []string{"founderlinkedin", "linkedin"}},
	{field: FieldFounderBios, ids: []string{"q40_founderBios"}, patterns: []string{"founderbio", "bios"}},
	{field: FieldPrimaryEmail, ids: []string{"q32_primaryEmail"}, patterns: []string{"primaryemail", "email"}},
	{field: FieldCompanyDescription, ids: []string{"q30_companyDescription"}, patterns: []string{"companydescription", "description"}},
	{field: FieldWebsite, ids: []string{"q31_websiteif"}, patterns: []string{"website"}},
	{field: FieldPreviousFunding, ids: []string{"q35_haveYou"}, patterns: []string{"haveyou", "previousfunding", "funding"}},
	{field: FieldDeckLink, ids: []string{"q41_linkTo"}, patterns: []string{"linkto", "decklink", "deck"}},
}

var (
	eventIDKeys      = []string{"event_id", "eventID"}
	submissionIDKeys = []string{"submissionID", "submission_id"}
	submitDateKeys   = []string{"submitDate", "submit_date"}
)

// jsonCarrierKeys name the single fields the provider uses to send a whole
// submission as one JSON document.
var jsonCarrierKeys = []string{"rawRequest", "rawSubmission", "submission", "payload"}

const wrapperPrefix = "rawSubmission"

// fold lowercases and drops everything except letters and digits.
func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fileValued reports keys that carry uploads. Their values are URLs or file
// handles and are never mapped onto text fields.
func fileValued(key string) bool {
	folded := fold(key)
	return strings.Contains(folded, "upload") || strings.Contains(folded, "file")
}

// uploadExtensions are the document and image types the upload widget hosts.
var uploadExtensions = []string{
	".pdf", ".ppt", ".pptx", ".key", ".doc", ".docx", ".xls", ".xlsx",
	".png", ".jpg", ".jpeg", ".gif", ".zip",
}

// uploadURL reports a link to a hosted file: a path under /uploads/ or one
// ending in a document or image extension.
func uploadURL(text string) bool {
	u, err := url.Parse(text)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	path := strings.ToLower(u.Path)
	if strings.Contains(path, "/uploads/") {
		return true
	}
	for _, ext := range uploadExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// uploadValued reports a value made only of uploaded-file URLs, which is how
// upload questions arrive when their key names no file. Exact field ids are
// text questions and are never treated as uploads.
func uploadValued(key, value string) bool {
	if _, known := knownIDs[strings.ToLower(key)]; known {
		return false
	}
	parts := strings.Fields(value)
	if len(parts) == 0 {
		return false
	}
	for _, part := range parts {
		if !uploadURL(part) {
			return false
		}
	}
	return true
}

func (f fieldSpec) matchesPattern(key, label string) bool {
	foldedKey := fold(stripQuestionPrefix(key))
	foldedLabel := fold(label)
	for _, pattern := range f.patterns {
		if strings.Contains(foldedKey, pattern) {
			return true
		}
		if foldedLabel != "" && strings.Contains(foldedLabel, pattern) {
			return true
		}
	}
	return false
}

// stripQuestionPrefix drops JotForm's "q<digits>_" prefix so "q26_typeA"
// folds to "typea" rather than "q26typea".
func stripQuestionPrefix(key string) string {
	if len(key) < 3 || (key[0] != 'q' && key[0] != 'Q') {
		return key
	}
	i := 1
	for i < len(key) && key[i] >= '0' && key[i] <= '9' {
		i++
	}
	if i == 1 || i >= len(key) || key[i] != '_' {
		return key
	}
	return key[i+1:]
}

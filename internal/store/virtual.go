package store

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.klb.dev/clipkeep/internal/model"
)

// Query template placeholders for virtual collections.
const (
	PlaceholderToday  = "{{today}}"
	PlaceholderCutoff = "{{cutoff}}"
)

// Validator vets a substituted virtual-collection query before it runs.
type Validator interface {
	Validate(query string) error
}

// KeywordValidator accepts a single read-only SELECT or WITH statement.
type KeywordValidator struct{}

var forbidden = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "REPLACE": {}, "UPSERT": {},
	"DROP": {}, "ALTER": {}, "CREATE": {}, "TRUNCATE": {},
	"PRAGMA": {}, "ATTACH": {}, "DETACH": {}, "VACUUM": {}, "REINDEX": {}, "ANALYZE": {},
}

// Validate implements Validator.
func (KeywordValidator) Validate(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if q == "" {
		return fmt.Errorf("empty query: %w", ErrValidation)
	}
	if strings.Contains(q, ";") {
		return fmt.Errorf("multiple statements: %w", ErrValidation)
	}
	if strings.Contains(q, "--") || strings.Contains(q, "/*") {
		return fmt.Errorf("comments are not allowed: %w", ErrValidation)
	}

	words := strings.FieldsFunc(strings.ToUpper(stripLiterals(q)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	if len(words) == 0 || (words[0] != "SELECT" && words[0] != "WITH") {
		return fmt.Errorf("only SELECT queries are allowed: %w", ErrValidation)
	}
	for _, w := range words {
		if _, bad := forbidden[w]; bad {
			return fmt.Errorf("keyword %s is not allowed: %w", w, ErrValidation)
		}
	}
	return nil
}

// stripLiterals blanks out single-quoted strings so their contents are not
// mistaken for keywords.
func stripLiterals(q string) string {
	var b strings.Builder
	in := false
	for _, r := range q {
		if r == '\'' {
			in = !in
			b.WriteRune(' ')
			continue
		}
		if in {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// expandTemplate substitutes the date placeholders with quoted YYYY-MM-DD
// values. The cutoff is today minus maxAgeDays.
func expandTemplate(tmpl string, now time.Time, maxAgeDays int) string {
	today := now.Format(time.DateOnly)
	cutoff := now.AddDate(0, 0, -maxAgeDays).Format(time.DateOnly)
	return strings.NewReplacer(
		PlaceholderToday, "'"+today+"'",
		PlaceholderCutoff, "'"+cutoff+"'",
	).Replace(tmpl)
}

// VirtualClips runs a virtual collection's query. A query the validator
// rejects is never executed.
func (s *Session) VirtualClips(col model.Collection, limit int) ([]model.Clip, error) {
	if col.Kind != model.CollectionVirtual {
		return nil, fmt.Errorf("collection %q is not virtual: %w", col.Title, ErrValidation)
	}
	q := expandTemplate(col.QueryTemplate, s.d.now(), col.MaxAgeDays)
	if err := s.d.validator.Validate(q); err != nil {
		return nil, fmt.Errorf("collection %q: %w", col.Title, err)
	}
	var clips []model.Clip
	if err := s.tx.Raw(q).Scan(&clips).Error; err != nil {
		return nil, fmt.Errorf("run virtual collection %q: %w", col.Title, err)
	}
	if limit > 0 && len(clips) > limit {
		clips = clips[:limit]
	}
	return clips, nil
}

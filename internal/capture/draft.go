// Package capture is the producer half of the pipeline: it watches the
// clipboard, extracts approved formats and hands drafts to a bounded channel.
package capture

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/model"
)

const maxTitle = 80

// Draft is one observed clipboard change, ready to be stored.
type Draft struct {
	ID         uuid.UUID
	CapturedAt time.Time
	Source     clip.Source
	Formats    []model.Payload
	Hash       model.Hash
	Kind       model.ClipKind
	Title      string
}

// NewDraft assembles a draft and precomputes its hash, kind and title from
// the canonical format. It returns nil when there are no payloads.
func NewDraft(src clip.Source, at time.Time, payloads []model.Payload) *Draft {
	primary, ok := model.Primary(payloads)
	if !ok {
		return nil
	}
	return &Draft{
		ID:         uuid.New(),
		CapturedAt: at,
		Source:     src,
		Formats:    payloads,
		Hash:       model.HashPayload(primary),
		Kind:       model.KindOf(primary),
		Title:      titleFor(primary),
	}
}

// Size is the sum of all payload sizes.
func (d *Draft) Size() int64 {
	var n int64
	for _, p := range d.Formats {
		n += int64(len(p.Data))
	}
	return n
}

// FormatNames lists the captured format names in order.
func (d *Draft) FormatNames() []string {
	out := make([]string, len(d.Formats))
	for i, p := range d.Formats {
		out[i] = p.Name
	}
	return out
}

// TitleFor derives a display title from a payload.
func TitleFor(p model.Payload) string { return titleFor(p) }

func titleFor(p model.Payload) string {
	switch model.KindOf(p) {
	case model.KindImage:
		return fmt.Sprintf("Image (%d bytes)", len(p.Data))
	case model.KindFiles:
		lines := strings.FieldsFunc(string(p.Data), func(r rune) bool { return r == '\n' || r == '\r' || r == 0 })
		if len(lines) == 0 {
			return "Files"
		}
		if len(lines) == 1 {
			return filepath.Base(lines[0])
		}
		return fmt.Sprintf("%s (+%d files)", filepath.Base(lines[0]), len(lines)-1)
	case model.KindBinary:
		return fmt.Sprintf("%s (%d bytes)", p.Name, len(p.Data))
	}

	text := strings.TrimSpace(string(p.Data))
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > maxTitle {
		r := []rune(text)
		text = string(r[:maxTitle]) + "…"
	}
	if text == "" {
		return "(blank)"
	}
	return text
}

package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
	"gorm.io/gorm"

	"go.klb.dev/clipkeep/internal/clip"
	"go.klb.dev/clipkeep/internal/model"
)

// Session is the view of a database inside one unit of work. It must not be
// used after the function passed to Database.Do returns.
type Session struct {
	tx    *gorm.DB
	d     *Database
	dirty bool
}

// Database returns the database the session belongs to.
func (s *Session) Database() *Database { return s.d }

func (s *Session) writable() error {
	if s.d.ReadOnly {
		return fmt.Errorf("database %q: %w", s.d.Key, ErrReadOnly)
	}
	s.dirty = true
	return nil
}

// Format is one stored representation of a clip.
type Format struct {
	model.ClipData
	Data []byte
}

// Payload converts the stored format back to a clipboard payload.
func (f Format) Payload() model.Payload {
	return model.Payload{Code: f.FormatCode, Name: f.FormatName, Storage: f.Storage, Data: f.Data}
}

func checksum(b []byte) string {
	return strconv.FormatUint(xxh3.Hash(b), 16)
}

// Persist inserts c and one descriptor plus payload row per format. The
// clip's size is the sum of its payload sizes. It returns the new clip id.
func (s *Session) Persist(c *model.Clip, payloads []model.Payload) (uint, error) {
	if err := s.writable(); err != nil {
		return 0, err
	}
	for _, p := range payloads {
		if !p.Storage.Valid() {
			return 0, fmt.Errorf("format %q storage %q: %w", p.Name, p.Storage, ErrUnknownStorage)
		}
	}

	c.ID = 0
	c.Size = 0
	for _, p := range payloads {
		c.Size += int64(len(p.Data))
	}
	if err := s.tx.Create(c).Error; err != nil {
		return 0, fmt.Errorf("insert clip: %w", err)
	}

	for _, p := range payloads {
		cd := model.ClipData{
			ClipID:     c.ID,
			FormatCode: p.Code,
			FormatName: p.Name,
			Storage:    p.Storage,
			Size:       int64(len(p.Data)),
			Checksum:   checksum(p.Data),
		}
		if err := s.tx.Create(&cd).Error; err != nil {
			return 0, fmt.Errorf("insert clip data %q: %w", p.Name, err)
		}
		if err := s.tx.Create(payloadRow(c.ID, cd.ID, p)).Error; err != nil {
			return 0, fmt.Errorf("insert %s payload %q: %w", p.Storage, p.Name, err)
		}
	}
	return c.ID, nil
}

func payloadRow(clipID, dataID uint, p model.Payload) any {
	switch p.Storage {
	case model.StorageText:
		return &model.TextPayload{ClipID: clipID, ClipDataID: dataID, Data: string(p.Data)}
	case model.StorageJPEG:
		return &model.JPEGPayload{ClipID: clipID, ClipDataID: dataID, Data: p.Data}
	case model.StoragePNG:
		return &model.PNGPayload{ClipID: clipID, ClipDataID: dataID, Data: p.Data}
	default:
		return &model.BinaryPayload{ClipID: clipID, ClipDataID: dataID, Data: p.Data}
	}
}

// LoadFormats returns every stored format of a clip in capture order. It
// reads the descriptors, then one batch per payload table, and joins them
// in memory.
func (s *Session) LoadFormats(clipID uint) ([]Format, error) {
	var descs []model.ClipData
	if err := s.tx.Where("clip_id = ?", clipID).Order("id").Find(&descs).Error; err != nil {
		return nil, fmt.Errorf("load clip data: %w", err)
	}
	if len(descs) == 0 {
		return nil, nil
	}

	data := make(map[uint][]byte, len(descs))

	var texts []model.TextPayload
	if err := s.tx.Where("clip_id = ?", clipID).Find(&texts).Error; err != nil {
		return nil, fmt.Errorf("load text payloads: %w", err)
	}
	for _, r := range texts {
		data[r.ClipDataID] = []byte(r.Data)
	}
	var jpegs []model.JPEGPayload
	if err := s.tx.Where("clip_id = ?", clipID).Find(&jpegs).Error; err != nil {
		return nil, fmt.Errorf("load jpeg payloads: %w", err)
	}
	for _, r := range jpegs {
		data[r.ClipDataID] = r.Data
	}
	var pngs []model.PNGPayload
	if err := s.tx.Where("clip_id = ?", clipID).Find(&pngs).Error; err != nil {
		return nil, fmt.Errorf("load png payloads: %w", err)
	}
	for _, r := range pngs {
		data[r.ClipDataID] = r.Data
	}
	var bins []model.BinaryPayload
	if err := s.tx.Where("clip_id = ?", clipID).Find(&bins).Error; err != nil {
		return nil, fmt.Errorf("load binary payloads: %w", err)
	}
	for _, r := range bins {
		data[r.ClipDataID] = r.Data
	}

	out := make([]Format, 0, len(descs))
	for _, cd := range descs {
		b, ok := data[cd.ID]
		if !ok {
			return nil, fmt.Errorf("clip %d format %q has no %s payload: %w", clipID, cd.FormatName, cd.Storage, ErrIntegrity)
		}
		if b == nil {
			b = []byte{}
		}
		out = append(out, Format{ClipData: cd, Data: b})
	}
	return out, nil
}

// DeleteAll removes a clip, its descriptors and every payload row, or
// nothing at all.
func (s *Session) DeleteAll(clipID uint) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.tx.Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.TextPayload{}, &model.JPEGPayload{}, &model.PNGPayload{}, &model.BinaryPayload{}} {
			if err := tx.Where("clip_id = ?", clipID).Delete(m).Error; err != nil {
				return fmt.Errorf("delete payloads of clip %d: %w", clipID, err)
			}
		}
		if err := tx.Where("clip_id = ?", clipID).Delete(&model.ClipData{}).Error; err != nil {
			return fmt.Errorf("delete clip data of clip %d: %w", clipID, err)
		}
		res := tx.Delete(&model.Clip{}, clipID)
		if res.Error != nil {
			return fmt.Errorf("delete clip %d: %w", clipID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("clip %d: %w", clipID, ErrNotFound)
		}
		return nil
	})
}

// FindByHash returns the non-deleted clip with hash h anywhere in the
// database.
func (s *Session) FindByHash(h model.Hash) (uint, bool, error) {
	var ids []uint
	err := s.tx.Model(&model.Clip{}).
		Where("hash = ? AND deleted = ?", h, false).
		Order("id").Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, false, fmt.Errorf("find clip by hash: %w", err)
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

// Recapture describes a repeated capture of an existing clip.
type Recapture struct {
	At     time.Time
	Source clip.Source
	Title  string
}

// Touch records a re-capture: the timestamp and source move forward and,
// unless the user renamed the clip, the title follows the new content when
// auto-retitle is on.
func (s *Session) Touch(clipID uint, r Recapture) (model.Clip, error) {
	if err := s.writable(); err != nil {
		return model.Clip{}, err
	}
	c, err := s.Clip(clipID)
	if err != nil {
		return model.Clip{}, err
	}
	updates := map[string]any{
		"captured_at":  r.At,
		"source_app":   r.Source.App,
		"source_title": r.Source.Title,
		"source_url":   r.Source.URL,
	}
	if s.d.AutoRetitle && !c.CustomTitle && r.Title != "" {
		updates["title"] = r.Title
	}
	if err := s.tx.Model(&model.Clip{}).Where("id = ?", clipID).Updates(updates).Error; err != nil {
		return model.Clip{}, fmt.Errorf("touch clip %d: %w", clipID, err)
	}
	return s.Clip(clipID)
}

// ResolveDestination picks the collection a new capture goes to: the active
// one if it accepts new clips, otherwise the first accepting collection in
// sort order.
func (s *Session) ResolveDestination() (model.Collection, error) {
	var active []model.Collection
	if err := s.tx.Where("active = ?", true).Order("sort_key, id").Limit(1).Find(&active).Error; err != nil {
		return model.Collection{}, fmt.Errorf("load active collection: %w", err)
	}
	if len(active) == 1 && accepts(active[0]) {
		return active[0], nil
	}

	var candidates []model.Collection
	err := s.tx.Where("accepts_new_clips = ? AND read_only = ?", true, false).
		Order("sort_key, id").Find(&candidates).Error
	if err != nil {
		return model.Collection{}, fmt.Errorf("scan collections: %w", err)
	}
	for _, c := range candidates {
		if accepts(c) {
			return c, nil
		}
	}
	return model.Collection{}, ErrNoDestination
}

func accepts(c model.Collection) bool {
	return c.AcceptsNewClips && !c.ReadOnly &&
		c.Kind != model.CollectionVirtual && c.Kind != model.CollectionTrashcan
}

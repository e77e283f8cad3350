// Package model holds the persisted clipboard-history schema.
package model

import "time"

// ClipKind is the type tag of a clip, derived from its canonical format.
type ClipKind string

const (
	KindText   ClipKind = "text"
	KindHTML   ClipKind = "html"
	KindImage  ClipKind = "image"
	KindFiles  ClipKind = "files"
	KindBinary ClipKind = "binary"
)

// CollectionKind distinguishes ordinary buckets from the special ones.
type CollectionKind string

const (
	CollectionNormal   CollectionKind = "normal"
	CollectionFolder   CollectionKind = "folder"
	CollectionTrashcan CollectionKind = "trashcan"
	CollectionOverflow CollectionKind = "overflow"
	CollectionVirtual  CollectionKind = "virtual"
)

// Collection is a named bucket of clips. ParentID links folders into a tree.
type Collection struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	ParentID        *uint          `gorm:"index" json:"parent_id,omitempty"`
	Parent          *Collection    `gorm:"foreignKey:ParentID" json:"-"`
	Title           string         `gorm:"not null" json:"title"`
	Kind            CollectionKind `gorm:"type:text;not null" json:"kind"`
	SortKey         int            `gorm:"index" json:"sort_key"`
	AcceptsNewClips bool           `json:"accepts_new_clips"`
	ReadOnly        bool           `json:"read_only"`
	Active          bool           `json:"active"`
	MaxClips        int            `json:"max_clips"`
	MaxBytes        int64          `json:"max_bytes"`
	MaxAgeDays      int            `json:"max_age_days"`
	OverflowID      *uint          `json:"overflow_id,omitempty"`
	QueryTemplate   string         `gorm:"type:text" json:"query_template,omitempty"`
}

// Retained reports whether retention may touch the collection at all.
func (c Collection) Retained() bool {
	return !c.ReadOnly && c.Kind != CollectionTrashcan && c.Kind != CollectionVirtual
}

// HasLimits reports whether any retention limit is configured.
func (c Collection) HasLimits() bool {
	return c.MaxClips > 0 || c.MaxBytes > 0 || c.MaxAgeDays > 0
}

// Clip is one captured clipboard event.
type Clip struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	CollectionID uint        `gorm:"index;not null" json:"collection_id"`
	Collection   *Collection `gorm:"foreignKey:CollectionID" json:"-"`
	FolderID     *uint       `json:"folder_id,omitempty"`
	Title        string      `json:"title"`
	CustomTitle  bool        `json:"custom_title"`
	Hash         Hash        `gorm:"index;type:text" json:"hash"`
	Kind         ClipKind    `gorm:"type:text" json:"kind"`
	CapturedAt   time.Time   `gorm:"index" json:"captured_at"`
	SortKey      int64       `json:"sort_key"`
	Favorite     bool        `json:"favorite"`
	Deleted      bool        `gorm:"index" json:"deleted"`
	DeletedOn    *time.Time  `json:"deleted_on,omitempty"`
	SourceApp    string      `json:"source_app,omitempty"`
	SourceTitle  string      `json:"source_title,omitempty"`
	SourceURL    string      `json:"source_url,omitempty"`
	Size         int64       `json:"size"`
}

// ClipData describes one captured format of a clip. Exactly one payload row
// in the table named by Storage belongs to it.
type ClipData struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	ClipID     uint        `gorm:"index;not null" json:"clip_id"`
	Clip       *Clip       `gorm:"foreignKey:ClipID;constraint:OnDelete:CASCADE" json:"-"`
	FormatCode uint32      `json:"format_code"`
	FormatName string      `json:"format_name"`
	Storage    StorageType `gorm:"type:text;not null" json:"storage"`
	Size       int64       `json:"size"`
	Checksum   string      `gorm:"type:text" json:"checksum"`
}

// TableName keeps the singular table name used by the rest of the schema.
func (ClipData) TableName() string { return "clip_data" }

// TextPayload holds text formats.
type TextPayload struct {
	ID         uint      `gorm:"primaryKey"`
	ClipID     uint      `gorm:"index;not null"`
	Clip       *Clip     `gorm:"foreignKey:ClipID;constraint:OnDelete:CASCADE"`
	ClipDataID uint      `gorm:"uniqueIndex;not null"`
	ClipData   *ClipData `gorm:"foreignKey:ClipDataID;constraint:OnDelete:CASCADE"`
	Data       string    `gorm:"type:text"`
}

func (TextPayload) TableName() string { return "blob_txt" }

// JPEGPayload holds JPEG images.
type JPEGPayload struct {
	ID         uint      `gorm:"primaryKey"`
	ClipID     uint      `gorm:"index;not null"`
	Clip       *Clip     `gorm:"foreignKey:ClipID;constraint:OnDelete:CASCADE"`
	ClipDataID uint      `gorm:"uniqueIndex;not null"`
	ClipData   *ClipData `gorm:"foreignKey:ClipDataID;constraint:OnDelete:CASCADE"`
	Data       []byte
}

func (JPEGPayload) TableName() string { return "blob_jpg" }

// PNGPayload holds PNG images.
type PNGPayload struct {
	ID         uint      `gorm:"primaryKey"`
	ClipID     uint      `gorm:"index;not null"`
	Clip       *Clip     `gorm:"foreignKey:ClipID;constraint:OnDelete:CASCADE"`
	ClipDataID uint      `gorm:"uniqueIndex;not null"`
	ClipData   *ClipData `gorm:"foreignKey:ClipDataID;constraint:OnDelete:CASCADE"`
	Data       []byte
}

func (PNGPayload) TableName() string { return "blob_png" }

// BinaryPayload holds everything else.
type BinaryPayload struct {
	ID         uint      `gorm:"primaryKey"`
	ClipID     uint      `gorm:"index;not null"`
	Clip       *Clip     `gorm:"foreignKey:ClipID;constraint:OnDelete:CASCADE"`
	ClipDataID uint      `gorm:"uniqueIndex;not null"`
	ClipData   *ClipData `gorm:"foreignKey:ClipDataID;constraint:OnDelete:CASCADE"`
	Data       []byte
}

func (BinaryPayload) TableName() string { return "blob_bin" }

// ApplicationProfile is the per-application capture policy. App is the
// normalized application name.
type ApplicationProfile struct {
	App     string          `gorm:"primaryKey;size:255"`
	Enabled bool            `gorm:"not null"`
	Formats map[string]bool `gorm:"serializer:json;type:text"`
}

func (ApplicationProfile) TableName() string { return "app_profiles" }

// ExclusionFilter discards captures from matching applications or windows.
type ExclusionFilter struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Process      string `json:"process,omitempty"`
	TitlePattern string `json:"title_pattern,omitempty"`
	Enabled      bool   `json:"enabled"`
}

func (ExclusionFilter) TableName() string { return "app_filters" }

// All lists every model in migration order.
func All() []any {
	return []any{
		&Collection{},
		&Clip{},
		&ClipData{},
		&TextPayload{},
		&JPEGPayload{},
		&PNGPayload{},
		&BinaryPayload{},
		&ApplicationProfile{},
		&ExclusionFilter{},
	}
}

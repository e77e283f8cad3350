package model

import "strings"

// StorageType selects the payload table that holds a format's bytes.
type StorageType string

const (
	StorageText   StorageType = "text"
	StorageJPEG   StorageType = "jpeg"
	StoragePNG    StorageType = "png"
	StorageBinary StorageType = "binary"
)

// Valid reports whether t names one of the payload tables.
func (t StorageType) Valid() bool {
	switch t {
	case StorageText, StorageJPEG, StoragePNG, StorageBinary:
		return true
	}
	return false
}

// Well-known clipboard format codes. Registered formats (HTML, RTF, PNG)
// have no fixed code on every platform; the values below are the ones the
// bundled backends report.
const (
	CodeText        uint32 = 1
	CodeBitmap      uint32 = 2
	CodeOEMText     uint32 = 7
	CodeDIB         uint32 = 8
	CodeUnicodeText uint32 = 13
	CodeHDrop       uint32 = 15
	CodeLocale      uint32 = 16
	CodeDIBV5       uint32 = 17
	CodeHTML        uint32 = 0xC0A0
	CodeRTF         uint32 = 0xC0A1
	CodePNG         uint32 = 0xC0A2
	CodeJPEG        uint32 = 0xC0A3
)

// Well-known format names, as offered by the clipboard owner.
const (
	FormatText        = "CF_TEXT"
	FormatOEMText     = "CF_OEMTEXT"
	FormatUnicodeText = "CF_UNICODETEXT"
	FormatBitmap      = "CF_BITMAP"
	FormatDIB         = "CF_DIB"
	FormatDIBV5       = "CF_DIBV5"
	FormatHDrop       = "CF_HDROP"
	FormatLocale      = "CF_LOCALE"
	FormatHTML        = "HTML Format"
	FormatRTF         = "Rich Text Format"
	FormatPNG         = "PNG"
	FormatJPEG        = "JFIF"
)

// Payload is one captured representation of the clipboard content.
type Payload struct {
	Code    uint32      `json:"code"`
	Name    string      `json:"name"`
	Storage StorageType `json:"storage"`
	Data    []byte      `json:"-"`
}

// StorageFor picks the payload table for a format name.
func StorageFor(name string) StorageType {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "CF_TEXT", "CF_OEMTEXT", "CF_UNICODETEXT", "HTML FORMAT", "RICH TEXT FORMAT",
		"TEXT/PLAIN", "TEXT/HTML", "TEXT/RTF", "UNIFORMRESOURCELOCATOR":
		return StorageText
	case "PNG", "IMAGE/PNG":
		return StoragePNG
	case "JFIF", "JPEG", "IMAGE/JPEG":
		return StorageJPEG
	}
	return StorageBinary
}

// primaryOrder ranks formats when choosing the canonical one for hashing,
// titling and the clip type tag.
var primaryOrder = []string{
	"CF_UNICODETEXT", "CF_TEXT", "CF_OEMTEXT", "TEXT/PLAIN",
	"HTML FORMAT", "TEXT/HTML", "RICH TEXT FORMAT",
	"PNG", "IMAGE/PNG", "JFIF", "IMAGE/JPEG", "CF_DIBV5", "CF_DIB", "CF_BITMAP",
	"CF_HDROP",
}

// Primary returns the canonical payload of a capture, or false if there are
// none. Unknown formats fall back to the first offered.
func Primary(payloads []Payload) (Payload, bool) {
	if len(payloads) == 0 {
		return Payload{}, false
	}
	for _, want := range primaryOrder {
		for _, p := range payloads {
			if strings.EqualFold(p.Name, want) {
				return p, true
			}
		}
	}
	return payloads[0], true
}

// KindOf derives the clip type tag from its canonical format.
func KindOf(p Payload) ClipKind {
	switch strings.ToUpper(p.Name) {
	case "HTML FORMAT", "TEXT/HTML":
		return KindHTML
	case "CF_HDROP":
		return KindFiles
	case "PNG", "IMAGE/PNG", "JFIF", "IMAGE/JPEG", "CF_DIB", "CF_DIBV5", "CF_BITMAP":
		return KindImage
	}
	if p.Storage == StorageText {
		return KindText
	}
	return KindBinary
}

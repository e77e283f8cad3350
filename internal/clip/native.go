//go:build darwin || windows || linux

package clip

import (
	"fmt"

	"golang.design/x/clipboard"

	"go.klb.dev/clipkeep/internal/model"
)

// nativeFormats enumerates what golang.design/x/clipboard can see. It only
// knows plain text and PNG images.
func nativeFormats() []FormatInfo {
	var out []FormatInfo
	if b := clipboard.Read(clipboard.FmtText); b != nil {
		out = append(out, textFormat)
	}
	if b := clipboard.Read(clipboard.FmtImage); b != nil {
		out = append(out, imageFormat)
	}
	return out
}

func nativeExtract(code uint32) ([]byte, error) {
	switch code {
	case textFormat.Code:
		return clipboard.Read(clipboard.FmtText), nil
	case imageFormat.Code:
		return clipboard.Read(clipboard.FmtImage), nil
	}
	return nil, fmt.Errorf("%w: code %d", ErrUnsupported, code)
}

// nativeWrite writes the first text and first PNG payload; everything else is
// skipped because the library cannot represent it.
func nativeWrite(payloads []model.Payload) error {
	var wrote bool
	for _, p := range payloads {
		switch model.StorageFor(p.Name) {
		case model.StorageText:
			if p.Code == model.CodeUnicodeText || p.Code == model.CodeText || !wrote {
				clipboard.Write(clipboard.FmtText, p.Data)
				wrote = true
			}
		case model.StoragePNG:
			clipboard.Write(clipboard.FmtImage, p.Data)
			wrote = true
		}
	}
	if !wrote {
		return fmt.Errorf("%w: no text or PNG payload", ErrUnsupported)
	}
	return nil
}

package transport

import (
	"fmt"
	"os"

	"github.com/disintegration/imaging"
)

// AttachmentMeta is the image metadata ProbeAttachment reports for an
// inbound attachment (SPEC_FULL §4.1 expansion).
type AttachmentMeta struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// ProbeAttachment decodes an image attachment to record its dimensions for
// observability, and rejects corrupt or unreadable files with
// ATTACHMENT_INVALID. The whole image is decoded; Format is left empty.
func ProbeAttachment(path string) (AttachmentMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return AttachmentMeta{}, fmt.Errorf("ATTACHMENT_INVALID: open %s: %w", path, err)
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(false))
	if err != nil {
		return AttachmentMeta{}, fmt.Errorf("ATTACHMENT_INVALID: decode %s: %w", path, err)
	}
	bounds := img.Bounds()
	return AttachmentMeta{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

package api

import (
	"errors"
	"fmt"
	"strings"
)

const maxAttachmentSize = 5 * 1024 * 1024

var (
	ErrAttachmentTooLarge = errors.New("attachment exceeds 5 MB limit")
	ErrAttachmentType     = errors.New("attachment type not supported")
)

var allowedAttachmentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       true,
	"text/plain":       true,
	"text/markdown":    true,
	"application/json": true,
}

// Attachment is a file staged for upload alongside a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Validate checks the attachment against the server's upload rules before
// any bytes leave the machine. Video is called out separately so the error
// reads better than a generic type rejection.
func (a Attachment) Validate() error {
	if len(a.Data) == 0 {
		return errors.New("attachment is empty")
	}
	if len(a.Data) > maxAttachmentSize {
		return fmt.Errorf("%w: %s is %d bytes", ErrAttachmentTooLarge, a.Name, len(a.Data))
	}
	if strings.HasPrefix(a.ContentType, "video/") {
		return fmt.Errorf("%w: video files cannot be attached", ErrAttachmentType)
	}
	if !allowedAttachmentTypes[a.ContentType] {
		return fmt.Errorf("%w: %s", ErrAttachmentType, a.ContentType)
	}
	return nil
}

package media

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
)

// sniffLen is how many leading bytes are kept for content detection.
const sniffLen = 3072

// detectContentType sniffs head and checks it matches kind.
func detectContentType(head []byte, kind models.MediaKind) (string, error) {
	mt := mimetype.Detect(head)
	ct := mt.String()
	base := ct
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}

	var ok bool
	switch kind {
	case models.MediaImage:
		ok = strings.HasPrefix(base, "image/")
	case models.MediaVideo:
		ok = strings.HasPrefix(base, "video/")
	}
	if !ok {
		return "", apperrors.Newf(apperrors.ErrValidation, "expected %s content, got %s", kind, base)
	}
	return base, nil
}

package extract

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/spherical/fulltext-extractor/internal/domain"
)

// NewRequest derives the relative name and stem of pdfPath, which must
// lie under workDir.
func NewRequest(workDir, pdfPath string) (domain.Request, error) {
	if strings.TrimSpace(pdfPath) == "" {
		return domain.Request{}, domain.InvalidRequestError("file path cannot be empty", nil)
	}

	rel, err := filepath.Rel(filepath.Clean(workDir), filepath.Clean(pdfPath))
	if err != nil {
		return domain.Request{}, domain.InvalidRequestError(fmt.Sprintf("%s is not under the working directory", pdfPath), err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return domain.Request{}, domain.InvalidRequestError(fmt.Sprintf("%s is not under the working directory", pdfPath), nil)
	}

	name := strings.Trim(filepath.ToSlash(rel), "/")
	stem, _ := splitExt(name)

	return domain.Request{
		Path:         pdfPath,
		RelativeName: name,
		Stem:         stem,
	}, nil
}

// splitExt splits name into root and extension. The extension starts at the
// last dot of the final element; leading dots of that element do not count,
// so ".profile" has no extension.
func splitExt(name string) (root, ext string) {
	base := path.Base(name)
	trimmed := strings.TrimLeft(base, ".")
	i := strings.LastIndex(trimmed, ".")
	if i < 0 {
		return name, ""
	}
	ext = trimmed[i:]
	return name[:len(name)-len(ext)], ext
}

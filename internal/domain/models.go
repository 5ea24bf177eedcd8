package domain

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/distribution/reference"
)

// ContainerRoot is where the shared volume is mounted inside the extractor container.
const ContainerRoot = "/pdfs"

// Result file suffixes written by the extractor next to the source PDF.
const (
	ResultExt    = ".txt"
	CompanionExt = ".pdf2txt"
)

// PathMapping describes one storage location as seen from two places:
// WorkDir is the caller's view, MountDir is the container runtime host's view.
type PathMapping struct {
	WorkDir  string `json:"work_dir"`
	MountDir string `json:"mount_dir"`
}

// Request holds the names derived from a single extraction call
type Request struct {
	Path         string `json:"path"`          // absolute path in the caller's filesystem
	RelativeName string `json:"relative_name"` // slash separated, relative to WorkDir
	Stem         string `json:"stem"`          // RelativeName without its final extension
}

// ContainerPath is the source PDF as seen by the extractor container.
func (m PathMapping) ContainerPath(req Request) string {
	return path.Join(ContainerRoot, req.RelativeName)
}

// Bind is the volume binding of MountDir onto ContainerRoot.
func (m PathMapping) Bind() string {
	return fmt.Sprintf("%s:%s:rw", m.MountDir, ContainerRoot)
}

// ResultPath is the text file the extractor leaves in WorkDir.
func (m PathMapping) ResultPath(req Request) string {
	return filepath.Join(m.WorkDir, filepath.FromSlash(req.Stem)+ResultExt)
}

// CompanionPath is the intermediate artifact the extractor leaves in WorkDir.
func (m PathMapping) CompanionPath(req Request) string {
	return filepath.Join(m.WorkDir, filepath.FromSlash(req.Stem)+CompanionExt)
}

// ImageRef identifies the extractor image.
type ImageRef struct {
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Digest string `json:"digest,omitempty"`
}

func (r ImageRef) String() string {
	s := r.Name
	if r.Tag != "" {
		s += ":" + r.Tag
	}
	if r.Digest != "" {
		s += "@" + r.Digest
	}
	return s
}

// ParseImageRef parses a reference such as "arxiv/fulltext:0.3". A reference
// without tag or digest gets the "latest" tag.
func ParseImageRef(s string) (ImageRef, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return ImageRef{}, fmt.Errorf("parse image reference %q: %w", s, err)
	}
	named = reference.TagNameOnly(named)

	ref := ImageRef{Name: reference.FamiliarName(named)}
	if tagged, ok := named.(reference.Tagged); ok {
		ref.Tag = tagged.Tag()
	}
	if digested, ok := named.(reference.Digested); ok {
		ref.Digest = digested.Digest().String()
	}
	return ref, nil
}

// Stage is a step of a single extraction call
type Stage string

const (
	StageIdle     Stage = "idle"
	StagePulling  Stage = "pulling"
	StageRunning  Stage = "running"
	StageReading  Stage = "reading"
	StageCleaning Stage = "cleaning"
	StageDone     Stage = "done"
)

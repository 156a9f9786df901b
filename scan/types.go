package scan

import (
	"path/filepath"
	"strings"

	"github.com/agentivy/sentinel/internal/hashutil"
)

// ArtifactKind says what a scan request is about.
type ArtifactKind string

const (
	ArtifactFile ArtifactKind = "file"
	ArtifactURL  ArtifactKind = "url"
)

// Artifact is one thing submitted for reputation scanning: either file bytes
// with their declared name, or a URL.
type Artifact struct {
	Kind     ArtifactKind
	Filename string
	Content  []byte
	URL      string
}

// Ext returns the artifact's lower-cased filename extension.
func (a Artifact) Ext() string {
	return strings.ToLower(filepath.Ext(a.Filename))
}

// acceptedExtensions is the set of file types the scanning service analyses
// usefully. Anything else is rejected up front instead of wasting quota.
var acceptedExtensions = map[string]struct{}{
	// Executables and binaries
	".exe": {}, ".dll": {}, ".msi": {}, ".sys": {}, ".scr": {}, ".com": {}, ".bat": {},

	// Documents
	".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".pdf": {}, ".rtf": {}, ".txt": {}, ".odt": {},

	// Archives
	".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {}, ".bz2": {},

	// Media
	".jpg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".ico": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mkv": {},

	// Scripts and code
	".js": {}, ".vbs": {}, ".ps1": {}, ".py": {}, ".sh": {},
	".java": {}, ".class": {}, ".jar": {},

	// Other
	".apk": {}, ".iso": {}, ".img": {}, ".bin": {}, ".hex": {}, ".ps": {}, ".lnk": {},
}

// Accepted reports whether the artifact's declared type may be submitted.
func Accepted(a Artifact) bool {
	if a.Kind == ArtifactURL {
		return true
	}
	_, ok := acceptedExtensions[a.Ext()]
	return ok
}

// Verdict is the uniform reduction of a completed report, independent of
// which engines the vendor happened to run.
type Verdict struct {
	Malicious    int
	Suspicious   int
	Harmless     int
	Undetected   int
	TotalEngines int
	FlaggedRatio float64
}

// Hit reports whether enough engines flagged the artifact for it to count as
// a detection. The threshold is fixed for files; spam and URL thresholds are
// group-configurable and live in the policy layer.
func (v Verdict) Hit() bool {
	return v.FlaggedRatio > 0.5
}

// Report is a completed analysis: the normalized verdict plus the identity
// of the scanned object as reported by the service.
type Report struct {
	Verdict  Verdict
	FileInfo hashutil.Hashes
}

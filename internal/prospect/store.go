// Package prospect owns the on-disk state of sales prospects. Every prospect
// is one folder under the configured root:
//
//	{root}/{userId}/assets/          uploaded images (and their thumbnails)
//	{root}/{userId}/conversation.json
//	{root}/{userId}/metadata.json
//	{root}/{userId}/sitemap.json
//	{root}/{userId}/styles.css
//
// All access goes through JailPath so a crafted userId or filename can never
// reach outside the root.
package prospect

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrNotFound reports that a prospect file does not exist yet. Readers treat
// this as empty state, not failure.
var ErrNotFound = errors.New("prospect file not found")

// File names inside a prospect folder.
const (
	AssetsDirName    = "assets"
	ThumbsDirName    = ".thumbs"
	ConversationFile = "conversation.json"
	MetadataFile     = "metadata.json"
	SitemapFile      = "sitemap.json"
	StylesFile       = "styles.css"
)

// imageExtensions is the case-insensitive allowlist used when listing assets.
// Non-image clutter (e.g. .DS_Store, stray PDFs) stays invisible to the model.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".svg": true, ".ico": true, ".bmp": true, ".avif": true,
}

// IsImageFilename reports whether name carries a recognized image extension.
func IsImageFilename(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// JailPath resolves the given userPath relative to root and ensures the result
// stays inside root. Returns the clean path or an error if the path escapes
// the sandbox.
func JailPath(root, userPath string) (string, error) {
	cleanRoot := filepath.Clean(root)

	if filepath.IsAbs(userPath) {
		cleanUser := filepath.Clean(userPath)
		if cleanUser == cleanRoot || strings.HasPrefix(cleanUser, cleanRoot+string(filepath.Separator)) {
			return cleanUser, nil
		}
		return "", fmt.Errorf("path escapes sandbox: %s", userPath)
	}

	resolved := filepath.Join(cleanRoot, userPath)
	resolved = filepath.Clean(resolved)

	if resolved == cleanRoot || strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
		return resolved, nil
	}

	return "", fmt.Errorf("path escapes sandbox: %s", userPath)
}

var filenameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename strips directories and replaces anything outside
// [a-zA-Z0-9._-] so uploads cannot smuggle separators or shell metacharacters.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	base = filenameSanitizer.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	return base
}

// Store is the filesystem API for prospect folders.
type Store struct {
	root string
}

// NewStore creates a Store rooted at dir. The directory is created on demand
// by the write paths, not here.
func NewStore(dir string) *Store {
	return &Store{root: filepath.Clean(dir)}
}

// Root returns the prospects root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the jailed folder path of one prospect.
func (s *Store) Dir(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("empty prospect id")
	}
	return JailPath(s.root, userID)
}

// Path returns a jailed path inside a prospect folder.
func (s *Store) Path(userID string, parts ...string) (string, error) {
	rel := filepath.Join(append([]string{userID}, parts...)...)
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("empty prospect id")
	}
	return JailPath(s.root, rel)
}

// EnsureDir creates the prospect folder and its assets directory.
func (s *Store) EnsureDir(userID string) error {
	dir, err := s.Path(userID, AssetsDirName)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// List returns the prospect ids that currently have a folder, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list prospects: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// =============================================================================
// Assets
// =============================================================================

// ListAssets returns the image filenames in the prospect's assets folder,
// sorted. A missing folder means no uploads yet and returns an empty list.
func (s *Store) ListAssets(userID string) ([]string, error) {
	dir, err := s.Path(userID, AssetsDirName)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list assets: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if IsImageFilename(e.Name()) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// AssetPath returns the jailed path of one asset after sanitizing name.
func (s *Store) AssetPath(userID, name string) (string, error) {
	clean := SanitizeFilename(name)
	if clean == "" {
		return "", fmt.Errorf("empty asset name after sanitizing %q", name)
	}
	return s.Path(userID, AssetsDirName, clean)
}

// SaveAsset writes an uploaded file into the prospect's assets folder and
// returns the stored (sanitized) filename.
func (s *Store) SaveAsset(userID, name string, data []byte) (string, error) {
	path, err := s.AssetPath(userID, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("save asset: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("save asset: %w", err)
	}
	return filepath.Base(path), nil
}

// RemoveAsset deletes an asset and its thumbnail if present. Removing a file
// that does not exist returns ErrNotFound.
func (s *Store) RemoveAsset(userID, name string) error {
	path, err := s.AssetPath(userID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove asset: %w", err)
	}
	if thumb, err := s.ThumbPath(userID, name); err == nil {
		_ = os.Remove(thumb)
	}
	return nil
}

// ThumbPath returns the jailed thumbnail path for an asset.
func (s *Store) ThumbPath(userID, name string) (string, error) {
	clean := SanitizeFilename(name)
	if clean == "" {
		return "", fmt.Errorf("empty asset name after sanitizing %q", name)
	}
	return s.Path(userID, AssetsDirName, ThumbsDirName, clean)
}

// PruneOrphanThumbs removes thumbnails whose source asset is gone. Returns the
// number of thumbnails removed across all prospects.
func (s *Store) PruneOrphanThumbs() (int, error) {
	ids, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		thumbDir, err := s.Path(id, AssetsDirName, ThumbsDirName)
		if err != nil {
			continue
		}
		entries, err := os.ReadDir(thumbDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			src, err := s.Path(id, AssetsDirName, e.Name())
			if err != nil {
				continue
			}
			if _, err := os.Stat(src); os.IsNotExist(err) {
				if os.Remove(filepath.Join(thumbDir, e.Name())) == nil {
					removed++
				}
			}
		}
	}
	return removed, nil
}

// =============================================================================
// Design documents
// =============================================================================

// Metadata carries capability flags derived from the metadata document so
// callers can answer "is there a logo yet" without re-parsing.
type Metadata struct {
	Fields       map[string]any
	HasLogo      bool
	HasHeroImage bool
}

// ReadMetadata loads metadata.json. Missing file returns ErrNotFound.
func (s *Store) ReadMetadata(userID string) (*Metadata, error) {
	raw, err := s.readFile(userID, MetadataFile)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetadataFile, err)
	}
	return &Metadata{
		Fields:       fields,
		HasLogo:      hasNonEmpty(fields, "logo"),
		HasHeroImage: hasNonEmpty(fields, "heroImage"),
	}, nil
}

// hasNonEmpty reports whether key holds a non-empty string or a truthy value.
func hasNonEmpty(fields map[string]any, key string) bool {
	v, ok := fields[key]
	if !ok {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case bool:
		return t
	case nil:
		return false
	default:
		return true
	}
}

// Sitemap is the sitemap.json document: an ordered list of page objects.
type Sitemap struct {
	Pages []map[string]any `json:"pages"`
}

// ReadSitemap loads sitemap.json. Missing file returns ErrNotFound.
func (s *Store) ReadSitemap(userID string) (*Sitemap, error) {
	raw, err := s.readFile(userID, SitemapFile)
	if err != nil {
		return nil, err
	}
	var sm Sitemap
	if err := json.Unmarshal(raw, &sm); err != nil {
		return nil, fmt.Errorf("parse %s: %w", SitemapFile, err)
	}
	if sm.Pages == nil {
		sm.Pages = []map[string]any{}
	}
	return &sm, nil
}

// ReadStylesheet loads styles.css as raw text. Missing file returns ErrNotFound.
func (s *Store) ReadStylesheet(userID string) (string, error) {
	raw, err := s.readFile(userID, StylesFile)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ReadConversationFile loads the raw conversation.json bytes. Missing file
// returns ErrNotFound; the session package layers document semantics on top.
func (s *Store) ReadConversationFile(userID string) ([]byte, error) {
	return s.readFile(userID, ConversationFile)
}

// WriteConversationFile atomically replaces conversation.json via a temp file
// and rename, so a concurrent reader never sees a half-written document.
func (s *Store) WriteConversationFile(userID string, data []byte) error {
	path, err := s.Path(userID, ConversationFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("write %s: %w", ConversationFile, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".conversation-*.json")
	if err != nil {
		return fmt.Errorf("write %s: %w", ConversationFile, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", ConversationFile, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", ConversationFile, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", ConversationFile, err)
	}
	return nil
}

func (s *Store) readFile(userID, name string) ([]byte, error) {
	path, err := s.Path(userID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

const readme = `# Armazenamento local de notas fiscais

Os arquivos ficam organizados por CNPJ do emissor e por data de recebimento:

    nfes_storage/
    ├── TAXID-12345678000199/
    │   ├── 2025-06-28/
    │   │   ├── nota1.pdf
    │   │   ├── nota2.png
    │   │   └── metadata.json
    │   └── 2025-06-29/
    └── TAXID-98765432000100/

Cada pasta de data guarda um metadata.json com o histórico dos arquivos salvos.
Arquivos com o mesmo nome recebem um sufixo numérico (nota_1.pdf) e nunca são sobrescritos.
`

// Manifest is the per-date-folder metadata.json. Files is append-only.
type Manifest struct {
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
	Files     []ManifestEntry `json:"files"`
}

type ManifestEntry struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	MIMEType   string `json:"mime_type"`
	SavedAt    string `json:"saved_at"`
	OCRSuccess bool   `json:"ocr_success"`
}

// LocalHealth is the writability report of the local tier.
type LocalHealth struct {
	Status       string `json:"status"`
	BasePath     string `json:"base_path"`
	Writable     bool   `json:"writable"`
	TaxIDFolders int    `json:"tax_id_folders"`
	Error        string `json:"error,omitempty"`
}

// LocalStats summarises what the local tier holds.
type LocalStats struct {
	BasePath     string `json:"base_path"`
	TaxIDFolders int    `json:"tax_id_folders"`
	DateFolders  int    `json:"date_folders"`
	Files        int    `json:"files"`
	Bytes        int64  `json:"bytes"`
}

// Local is the tertiary tier. Writes are serialized so that collision
// resolution and manifest appends are consistent within the process.
type Local struct {
	base   string
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewLocal creates base and its README when missing.
func NewLocal(base string, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if base == "" {
		base = constants.DefaultLocalBase
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs base: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, common.PersistenceError("create local base", err)
	}
	rp := filepath.Join(abs, "README.md")
	if _, err := os.Stat(rp); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(rp, []byte(readme), 0o644); err != nil {
			logger.Warn("storage.local.readme_failed", "error", err)
		}
	}
	logger.Info("storage.local.ready", "base_path", abs)
	return &Local{base: abs, logger: logger, now: time.Now}, nil
}

func (l *Local) Name() constants.Backend     { return constants.BackendTertiaryBlob }
func (l *Local) Type() constants.StorageType { return constants.StorageLocal }
func (l *Local) BasePath() string            { return l.base }

// Put writes f under TAXID-<id>/<date>/. An existing name gets a _N suffix before the extension.
func (l *Local) Put(_ context.Context, f File) (Location, error) {
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = l.now()
	}
	f.Name = common.SafeFilename(f.Name)
	dir := filepath.Join(l.base, f.TaxIDFolder(), f.DateFolder())

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Location{}, common.PersistenceError("create date folder", err)
	}
	name, err := writeExclusive(dir, f.Name, f.Data)
	if err != nil {
		return Location{}, common.PersistenceError("write local file", err)
	}

	mime := f.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	if err := l.appendManifest(dir, ManifestEntry{
		Filename:   name,
		Size:       int64(len(f.Data)),
		MIMEType:   mime,
		SavedAt:    l.now().Format(time.RFC3339),
		OCRSuccess: f.OCRSuccess,
	}); err != nil {
		l.logger.Error("storage.local.manifest_failed", "dir", dir, "error", err)
	}

	rel := filepath.ToSlash(filepath.Join(f.TaxIDFolder(), f.DateFolder(), name))
	l.logger.Info("storage.local.saved", "path", rel, "size", len(f.Data))
	return Location{FullPath: rel, Filename: name, Size: int64(len(f.Data))}, nil
}

// reservedName reports whether name belongs to the manifest rather than to an upload.
func reservedName(name string) bool {
	return strings.EqualFold(name, constants.ManifestFilename) ||
		strings.EqualFold(name, constants.ManifestFilename+".tmp")
}

// writeExclusive creates name, or stem_1.ext, stem_2.ext, ... whichever is free first.
// Manifest names count as taken.
func writeExclusive(dir, name string, data []byte) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 1; ; n++ {
		if reservedName(candidate) {
			candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
			continue
		}
		fh, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := fh.Write(data); err != nil {
			_ = fh.Close()
			_ = os.Remove(fh.Name())
			return "", err
		}
		return candidate, fh.Close()
	}
}

func (l *Local) appendManifest(dir string, e ManifestEntry) error {
	mp := filepath.Join(dir, constants.ManifestFilename)
	m, err := ReadManifest(mp)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	now := l.now().Format(time.RFC3339)
	if m.CreatedAt == "" {
		m.CreatedAt = now
	}
	m.Files = append(m.Files, e)
	m.UpdatedAt = now

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := mp + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, mp)
}

// ReadManifest loads a metadata.json file.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// List returns the files of one tax ID, optionally restricted to one date folder.
func (l *Local) List(_ context.Context, taxID, date string) ([]StoredFile, error) {
	root := filepath.Join(l.base, File{TaxID: taxID}.TaxIDFolder())
	dates, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return []StoredFile{}, nil
	}
	if err != nil {
		return nil, common.PersistenceError("list tax id folder", err)
	}

	out := []StoredFile{}
	for _, d := range dates {
		if !d.IsDir() || (date != "" && d.Name() != date) {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, d.Name()))
		if err != nil {
			l.logger.Error("storage.local.list_failed", "dir", d.Name(), "error", err)
			continue
		}
		for _, e := range entries {
			if e.IsDir() || reservedName(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			out = append(out, StoredFile{
				Filename:    e.Name(),
				Size:        info.Size(),
				DateFolder:  d.Name(),
				FilePath:    filepath.Join(root, d.Name(), e.Name()),
				ModifiedAt:  info.ModTime().Format(time.RFC3339),
				StorageType: constants.StorageLocal,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateFolder != out[j].DateFolder {
			return out[i].DateFolder < out[j].DateFolder
		}
		return out[i].Filename < out[j].Filename
	})
	return out, nil
}

// Health probes writability with a zero-byte file that is removed right away.
func (l *Local) Health() LocalHealth {
	h := LocalHealth{Status: "healthy", BasePath: l.base}
	probe := filepath.Join(l.base, ".health_check")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		h.Status = "unhealthy"
		h.Error = err.Error()
		return h
	}
	if err := os.Remove(probe); err != nil {
		h.Status = "unhealthy"
		h.Error = err.Error()
		return h
	}
	h.Writable = true

	entries, err := os.ReadDir(l.base)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), constants.TaxIDFolderPrefix) {
			h.TaxIDFolders++
		}
	}
	return h
}

// Stats walks the tier and counts folders, files and bytes. Manifests and the README are excluded.
func (l *Local) Stats() (LocalStats, error) {
	st := LocalStats{BasePath: l.base}
	err := filepath.WalkDir(l.base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(l.base, p)
		depth := len(strings.Split(filepath.ToSlash(rel), "/"))
		switch {
		case rel == ".":
			return nil
		case d.IsDir() && depth == 1:
			if !strings.HasPrefix(d.Name(), constants.TaxIDFolderPrefix) {
				return filepath.SkipDir
			}
			st.TaxIDFolders++
		case d.IsDir() && depth == 2:
			st.DateFolders++
		case !d.IsDir() && depth == 3 && !reservedName(d.Name()):
			info, err := d.Info()
			if err != nil {
				return err
			}
			st.Files++
			st.Bytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return st, common.PersistenceError("walk local base", err)
	}
	return st, nil
}

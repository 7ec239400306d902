package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

type stubBackend struct {
	name  constants.Backend
	err   error
	calls int
	ping  error
	files []StoredFile
}

func (s *stubBackend) Name() constants.Backend     { return s.name }
func (s *stubBackend) Type() constants.StorageType { return constants.StorageRemote }

func (s *stubBackend) Put(_ context.Context, f File) (Location, error) {
	s.calls++
	if s.err != nil {
		return Location{}, s.err
	}
	return Location{FullPath: "remote/" + f.RelPath(), Filename: f.Name}, nil
}

func (s *stubBackend) Ping(context.Context) error { return s.ping }

func (s *stubBackend) List(context.Context, string, string) ([]StoredFile, error) {
	if s.ping != nil {
		return nil, s.ping
	}
	return s.files, nil
}

func newCoordinator(t *testing.T, opts ...CoordinatorOption) (*Coordinator, *Local) {
	t.Helper()
	l := newLocal(t)
	opts = append(opts, WithClock(func() time.Time { return day }))
	return NewCoordinator(l, discard(), opts...), l
}

func invoice() File {
	return File{Name: "invoice.pdf", Data: []byte("%PDF"), TaxID: "12345678000199", OCRSuccess: true}
}

func TestPersistFile_PrimarySuccess(t *testing.T) {
	primary := &stubBackend{name: constants.BackendPrimaryBlob}
	c, _ := newCoordinator(t, WithPrimary(primary))

	out := c.PersistFile(context.Background(), invoice())
	assert.True(t, out.Success)
	assert.Equal(t, constants.StorageRemote, out.StorageType)
	assert.Equal(t, constants.BackendPrimaryBlob, out.Backend)
	assert.Equal(t, "remote/TAXID-12345678000199/2025-06-28/invoice.pdf", out.FullPath)
	assert.Len(t, out.Attempts, 1)
	assert.Empty(t, out.Error)
}

func TestPersistFile_QuotaGoesStraightToLocal(t *testing.T) {
	primary := &stubBackend{name: constants.BackendPrimaryBlob, err: common.QuotaError("drive upload", errors.New("storageQuotaExceeded"))}
	secondary := &stubBackend{name: constants.BackendSecondaryBlob}
	c, l := newCoordinator(t, WithPrimary(primary), WithSecondary(secondary))

	out := c.PersistFile(context.Background(), invoice())
	require.True(t, out.Success)
	assert.Equal(t, constants.StorageLocal, out.StorageType)
	assert.Equal(t, constants.BackendTertiaryBlob, out.Backend)
	assert.Equal(t, "TAXID-12345678000199/2025-06-28/invoice.pdf", out.FullPath)
	assert.Equal(t, 0, secondary.calls)
	require.Len(t, out.Attempts, 2)
	assert.True(t, out.Attempts[0].Quota)

	_, err := os.Stat(filepath.Join(l.BasePath(), "TAXID-12345678000199", "2025-06-28", "invoice.pdf"))
	assert.NoError(t, err)
}

func TestPersistFile_OtherErrorTriesSecondary(t *testing.T) {
	primary := &stubBackend{name: constants.BackendPrimaryBlob, err: common.PersistenceError("drive upload", errors.New("500"))}
	secondary := &stubBackend{name: constants.BackendSecondaryBlob}
	c, _ := newCoordinator(t, WithPrimary(primary), WithSecondary(secondary))

	out := c.PersistFile(context.Background(), invoice())
	require.True(t, out.Success)
	assert.Equal(t, constants.BackendSecondaryBlob, out.Backend)
	assert.Equal(t, 1, secondary.calls)
	require.Len(t, out.Attempts, 2)
	assert.False(t, out.Attempts[0].Quota)
	assert.Contains(t, out.Attempts[0].Error, "500")
}

func TestPersistFile_OtherErrorWithoutSecondaryGoesToLocal(t *testing.T) {
	primary := &stubBackend{name: constants.BackendPrimaryBlob, err: common.PersistenceError("drive upload", errors.New("500"))}
	c, _ := newCoordinator(t, WithPrimary(primary))

	out := c.PersistFile(context.Background(), invoice())
	require.True(t, out.Success)
	assert.Equal(t, constants.BackendTertiaryBlob, out.Backend)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, constants.BackendPrimaryBlob, out.Attempts[0].Backend)
	assert.False(t, out.Attempts[0].Quota)
}

func TestPersistFile_SecondaryFailureFallsToLocal(t *testing.T) {
	primary := &stubBackend{name: constants.BackendPrimaryBlob, err: errors.New("timeout")}
	secondary := &stubBackend{name: constants.BackendSecondaryBlob, err: errors.New("denied")}
	c, _ := newCoordinator(t, WithPrimary(primary), WithSecondary(secondary))

	out := c.PersistFile(context.Background(), invoice())
	require.True(t, out.Success)
	assert.Equal(t, constants.StorageLocal, out.StorageType)
	assert.Len(t, out.Attempts, 3)
}

func TestPersistFile_LocalOnlyWhenNoRemote(t *testing.T) {
	c, _ := newCoordinator(t)

	out := c.PersistFile(context.Background(), invoice())
	require.True(t, out.Success)
	assert.Equal(t, constants.StorageLocal, out.StorageType)
	assert.Len(t, out.Attempts, 1)
}

func TestPersistFile_AllTiersFail(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	primary := &stubBackend{name: constants.BackendPrimaryBlob, err: errors.New("down")}
	c, l := newCoordinator(t, WithPrimary(primary))
	require.NoError(t, os.Chmod(l.BasePath(), 0o500))
	t.Cleanup(func() { _ = os.Chmod(l.BasePath(), 0o755) })

	out := c.PersistFile(context.Background(), invoice())
	assert.False(t, out.Success)
	assert.NotEmpty(t, out.Error)
	assert.Len(t, out.Attempts, 2)
}

func TestPersistFile_InfersMIMEType(t *testing.T) {
	c, l := newCoordinator(t)
	out := c.PersistFile(context.Background(), File{Name: "nota.PNG", Data: []byte("x"), TaxID: "1"})
	require.True(t, out.Success)

	m, err := ReadManifest(filepath.Join(l.BasePath(), "TAXID-1", "2025-06-28", constants.ManifestFilename))
	require.NoError(t, err)
	assert.Equal(t, "image/png", m.Files[0].MIMEType)
}

func TestHealth(t *testing.T) {
	c, _ := newCoordinator(t)
	h := c.Health(context.Background())
	assert.Equal(t, constants.HealthLocalOnly, h.Status)
	assert.True(t, h.Local.Writable)

	primary := &stubBackend{name: constants.BackendPrimaryBlob}
	c, _ = newCoordinator(t, WithPrimary(primary))
	assert.Equal(t, constants.HealthHealthy, c.Health(context.Background()).Status)

	primary.ping = errors.New("unreachable")
	h = c.Health(context.Background())
	assert.Equal(t, constants.HealthDriveError, h.Status)
	assert.Equal(t, "unreachable", h.Error)
	assert.True(t, h.Local.Writable)
}

func TestListFiles_FallsBackToLocal(t *testing.T) {
	primary := &stubBackend{name: constants.BackendPrimaryBlob, files: []StoredFile{{Filename: "r.pdf"}}}
	c, l := newCoordinator(t, WithPrimary(primary))
	_, err := l.Put(context.Background(), File{Name: "l.pdf", TaxID: "12345678000199", ReceivedAt: day})
	require.NoError(t, err)

	got, err := c.ListFiles(context.Background(), "12.345.678/0001-99", "")
	require.NoError(t, err)
	assert.Equal(t, constants.StorageRemote, got.StorageType)
	assert.Equal(t, "r.pdf", got.Files[0].Filename)

	primary.ping = errors.New("down")
	got, err = c.ListFiles(context.Background(), "12345678000199", "")
	require.NoError(t, err)
	assert.Equal(t, constants.StorageLocal, got.StorageType)
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, "l.pdf", got.Files[0].Filename)
}

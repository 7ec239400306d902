package constants

// Backend names a storage destination in a PersistenceOutcome.
type Backend string

// Stable values, reported to callers as-is.
const (
	BackendPrimaryTable  Backend = "primary-table"
	BackendPrimaryBlob   Backend = "primary-blob"
	BackendSecondaryBlob Backend = "secondary-blob"
	BackendTertiaryBlob  Backend = "tertiary-blob"
)

// StorageType is the coarse storage class surfaced on the blob path.
type StorageType string

const (
	StorageRemote StorageType = "remote"
	StorageLocal  StorageType = "local"
)

// HealthStatus of the blob persistence chain.
type HealthStatus string

const (
	HealthHealthy    HealthStatus = "healthy"
	HealthDriveError HealthStatus = "drive_error"
	HealthLocalOnly  HealthStatus = "local_only"
)

// Layout constants shared by remote and local tiers.
const (
	TaxIDFolderPrefix  = "TAXID-"
	DateFolderLayout   = "2006-01-02"
	ManifestFilename   = "metadata.json"
	DefaultRootFolder  = "NFEs"
	DefaultLocalBase   = "nfes_storage"
	DriveFolderMIME    = "application/vnd.google-apps.folder"
	DefaultUploadLimit = 10 << 20
)

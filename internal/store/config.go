package store

// S3Config configures the S3 object-store client. Empty AccessKey/SecretKey
// fall back to the default AWS credential chain. A non-empty Endpoint switches
// to path-style addressing for MinIO-compatible stores.
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

package ddl

import (
	"fmt"
	"strings"
)

// S3Secret holds credentials for reading telemetry files from S3 or an
// S3-compatible store.
type S3Secret struct {
	Name     string
	KeyID    string
	Secret   string
	Endpoint string
	Region   string
	URLStyle string
}

// CreateS3Secret returns a CREATE OR REPLACE SECRET statement. Empty endpoint,
// region and URL style are left to DuckDB's defaults.
func CreateS3Secret(s S3Secret) (string, error) {
	if err := ValidateIdentifier(s.Name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	if s.KeyID == "" || s.Secret == "" {
		return "", fmt.Errorf("S3 key id and secret are required")
	}

	opts := []string{
		"TYPE S3",
		"KEY_ID " + QuoteLiteral(s.KeyID),
		"SECRET " + QuoteLiteral(s.Secret),
	}
	if s.Endpoint != "" {
		opts = append(opts, "ENDPOINT "+QuoteLiteral(s.Endpoint))
	}
	if s.Region != "" {
		opts = append(opts, "REGION "+QuoteLiteral(s.Region))
	}
	if s.URLStyle != "" {
		opts = append(opts, "URL_STYLE "+QuoteLiteral(s.URLStyle))
	}
	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (\n\t%s\n)",
		QuoteIdentifier(s.Name), strings.Join(opts, ",\n\t")), nil
}

// readFunc maps a file format onto its DuckDB table function.
func readFunc(format string) (string, error) {
	switch strings.ToLower(format) {
	case "parquet", "":
		return "read_parquet", nil
	case "csv":
		return "read_csv_auto", nil
	case "json", "ndjson":
		return "read_json_auto", nil
	default:
		return "", fmt.Errorf("unsupported file format: %q", format)
	}
}

// CreateFileView returns a statement that exposes files at path (a local
// path, glob or s3:// URL) as a view, so the source query can read exported
// query history like a table.
func CreateFileView(view, path, format string) (string, error) {
	if err := ValidateIdentifier(view); err != nil {
		return "", fmt.Errorf("invalid view name: %w", err)
	}
	if path == "" {
		return "", fmt.Errorf("source path is required")
	}
	fn, err := readFunc(format)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s([%s])",
		QuoteIdentifier(view), fn, QuoteLiteral(path)), nil
}

// SetMemoryLimit returns a statement capping DuckDB's memory use.
func SetMemoryLimit(gb int) (string, error) {
	if gb <= 0 {
		return "", fmt.Errorf("memory limit must be positive, got %d", gb)
	}
	return fmt.Sprintf("SET max_memory='%dGB'", gb), nil
}

// LoadExtension returns an INSTALL and LOAD pair for a DuckDB extension.
func LoadExtension(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid extension name: %w", err)
	}
	return fmt.Sprintf("INSTALL %s; LOAD %s;", name, name), nil
}

package export

// Format specifies the output serialization format.
type Format string

const (
	// FormatJSON produces machine-readable JSON output.
	FormatJSON Format = "json"

	// FormatTable produces a human-readable aligned text table.
	FormatTable Format = "table"
)

// FormatInfo provides metadata about an export format.
type FormatInfo struct {
	// Name is the format identifier.
	Name Format

	// MIMEType is the standard MIME type.
	MIMEType string

	// Extension is the file extension (with dot).
	Extension string

	// Description describes the format.
	Description string
}

// FormatRegistry contains metadata for all supported formats.
var FormatRegistry = map[Format]FormatInfo{
	FormatJSON: {
		Name:        FormatJSON,
		MIMEType:    "application/json",
		Extension:   ".json",
		Description: "JSON - machine-readable snapshot",
	},
	FormatTable: {
		Name:        FormatTable,
		MIMEType:    "text/plain",
		Extension:   ".txt",
		Description: "Table - human-readable aligned text",
	},
}

// GetFormatInfo returns metadata for a format.
func GetFormatInfo(format Format) (FormatInfo, bool) {
	info, ok := FormatRegistry[format]
	return info, ok
}

// ValidFormat reports whether the format is supported.
func ValidFormat(format Format) bool {
	_, ok := FormatRegistry[format]
	return ok
}

// Package export renders read-only snapshots of the knowledge base:
// principles and features grouped by project, with lifecycle status and
// stale-flag annotations. Snapshots never mutate stored state.
package export

// Profile determines how aggressively snapshot rows are condensed.
type Profile string

const (
	// ProfileFull includes complete statements and reference lists.
	ProfileFull Profile = "full"

	// ProfileCompact truncates statements and elides long reference
	// lists for terminal display.
	ProfileCompact Profile = "compact"
)

// ProfileConfig contains configuration for a snapshot profile.
type ProfileConfig struct {
	// Name is the profile identifier.
	Name Profile

	// Description describes the profile.
	Description string

	// TruncateLength caps statement length in runes; 0 disables
	// truncation.
	TruncateLength int

	// ElideThreshold caps how many principle references a feature row
	// lists before the remainder collapses to "+N"; 0 disables
	// elision.
	ElideThreshold int
}

// Profiles contains the configuration for all available snapshot
// profiles.
var Profiles = map[Profile]ProfileConfig{
	ProfileFull: {
		Name:        ProfileFull,
		Description: "Complete statements and reference lists",
	},
	ProfileCompact: {
		Name:           ProfileCompact,
		Description:    "Truncated statements, elided reference lists",
		TruncateLength: 96,
		ElideThreshold: 3,
	},
}

// GetProfile returns the configuration for a profile.
func GetProfile(profile Profile) (ProfileConfig, bool) {
	cfg, ok := Profiles[profile]
	return cfg, ok
}

// ValidProfile reports whether the profile is known.
func ValidProfile(profile Profile) bool {
	_, ok := Profiles[profile]
	return ok
}

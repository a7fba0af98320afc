package registry

// DestinationRecord is one backend destination the shell can switch to.
// PasswordSalt and PasswordHash are paired: either both present or both
// absent. A record without a credential pair is open (AllowNoPassword).
type DestinationRecord struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	PasswordSalt    string `json:"passwordSalt,omitempty"`
	PasswordHash    string `json:"passwordHash,omitempty"`
	AllowNoPassword bool   `json:"allowNoPassword"`
}

// Protected reports whether switching to this destination requires a password.
func (r DestinationRecord) Protected() bool {
	return r.PasswordSalt != "" && r.PasswordHash != ""
}

// Summary is the credential-free view of a record handed to UI surfaces.
type Summary struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Protected bool   `json:"protected"`
}

// Summarize strips credential material from a record.
func (r DestinationRecord) Summarize() Summary {
	return Summary{ID: r.ID, Label: r.Label, Protected: r.Protected()}
}

// Normalize re-establishes the password-or-open invariant on a record and
// reports whether anything changed. A half-present salt/hash pair is
// discarded; a record with no credential pair becomes open.
func Normalize(rec DestinationRecord) (DestinationRecord, bool) {
	out := rec

	if out.PasswordSalt == "" || out.PasswordHash == "" {
		out.PasswordSalt = ""
		out.PasswordHash = ""
	}

	if out.PasswordSalt != "" {
		out.AllowNoPassword = false
	} else {
		out.AllowNoPassword = true
	}

	return out, out != rec
}

// DefaultDestinations is the built-in seed list used when no registry record
// exists yet. Ids are stable; labels are display-only.
func DefaultDestinations() []DestinationRecord {
	return []DestinationRecord{
		{ID: "team-a-default", Label: "Team A (default server)", AllowNoPassword: true},
		{ID: "team-b-marketing", Label: "Team B (marketing)", AllowNoPassword: true},
		{ID: "team-c-dev", Label: "Team C (development)", AllowNoPassword: true},
		{ID: "team-d-sales", Label: "Team D (sales)", AllowNoPassword: true},
	}
}

package wisun

import "github.com/BurntSushi/toml"

// Profile is the vendor dongle profile: the two one-line toggles
// design notes §9 calls out as open questions, plus the channel-scan
// duration knob §9 allows exposing as configuration.
type Profile struct {
	Name                     string `toml:"name"`
	TrailingCRLFAfterPayload bool   `toml:"trailing_crlf_after_payload"`
	ScanDuration             int    `toml:"scan_duration"`
}

// DefaultProfile matches the BP35C2 behaviour the specification
// standardises on: no trailing CRLF after the SKSENDTO payload, scan
// duration parameter 7 (~2 minutes).
func DefaultProfile() Profile {
	return Profile{
		Name:                     "BP35C2",
		TrailingCRLFAfterPayload: false,
		ScanDuration:             7,
	}
}

// LoadProfile reads a vendor profile from a TOML file, falling back
// to DefaultProfile field-by-field for anything the file omits.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if path == "" {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

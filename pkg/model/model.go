package model

import (
	"fmt"
	"time"

	"github.com/paulstuart/fwhistory/pkg/firmware"
)

// HistoryInfo represents one firmware release for a device and region.
type HistoryInfo struct {
	Date           *time.Time `json:"date,omitempty"`           // nil when the source has no date
	AndroidVersion string     `json:"androidVersion,omitempty"` // only set on the latest XML entry
	FirmwareString string     `json:"firmwareString"`           // normalized firmware string
}

// String returns a stable key for the entry.
func (h HistoryInfo) String() string {
	date := "-"
	if h.Date != nil {
		date = h.Date.Format(time.DateOnly)
	}
	return fmt.Sprintf("%s|%s|%s", date, h.AndroidVersion, h.FirmwareString)
}

// BuildPrefix is the changelog lookup key for the entry.
func (h HistoryInfo) BuildPrefix() string {
	return firmware.BuildPrefix(h.FirmwareString)
}

// Changelog represents the published release notes for one firmware build.
type Changelog struct {
	Firmware       string `json:"firmware"`
	AndroidVersion string `json:"androidVersion,omitempty"`
	ReleaseDate    string `json:"releaseDate,omitempty"`
	SecurityPatch  string `json:"securityPatch,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// ChangelogIndex maps a build prefix to its changelog.
type ChangelogIndex struct {
	Model      string               `json:"model"`
	Region     string               `json:"region"`
	Changelogs map[string]Changelog `json:"changelogs"`
}

// Lookup returns the changelog for the build prefix of fw.
func (c *ChangelogIndex) Lookup(fw string) (Changelog, bool) {
	if c == nil || c.Changelogs == nil {
		return Changelog{}, false
	}
	cl, ok := c.Changelogs[firmware.BuildPrefix(fw)]
	return cl, ok
}

// Release is a history entry merged with its changelog, if one was published.
type Release struct {
	HistoryInfo
	Changelog *Changelog `json:"changelog,omitempty"`
}

// HandoffTarget names the screen a selected firmware is handed to.
type HandoffTarget string

const (
	HandoffDownload HandoffTarget = "download"
	HandoffDecrypt  HandoffTarget = "decrypt"
)

// Handoff is the data copied into the download or decrypt flow when a user
// picks a firmware from the history.
type Handoff struct {
	Target   HandoffTarget `json:"target"`
	Model    string        `json:"model"`
	Region   string        `json:"region"`
	Firmware string        `json:"firmware"`
	Manual   bool          `json:"manual"`
}

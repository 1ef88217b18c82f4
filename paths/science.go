// paths/science.go
package paths

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ScienceHandler names processed science products, versioned.
type ScienceHandler struct {
	Level       string // l1a, l1b, l1c, l2-pre, ...
	Descriptor  string // norm-mago, burst-magi, ...
	ContentDate time.Time
	Version     int
	Width       int // digits Version was parsed with; at least 3 are rendered
	Extension   string
}

var scienceName = regexp.MustCompile(`^imap_mag_(?P<level>l\d[a-zA-Z]?(?:-pre)?)_(?P<descr>(?:norm|burst)[^_]*)_(?P<date>\d{8})_v(?P<version>\d+)\.(?P<ext>\w+)$`)

func NewScienceHandler(level, descriptor string, contentDate time.Time, extension string) *ScienceHandler {
	return &ScienceHandler{Level: level, Descriptor: descriptor, ContentDate: contentDate, Version: 1, Extension: extension}
}

func (h *ScienceHandler) sealed()              {}
func (h *ScienceHandler) Category() Category   { return CategoryScience }
func (h *ScienceHandler) IndexDate() time.Time { return h.ContentDate }

func (h *ScienceHandler) Folder() (string, error) {
	if err := need("science", "folder").str("level", h.Level).date("content_date", h.ContentDate).err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("science/%s/%s/%s", instrument, h.Level, yearMonth(h.ContentDate)), nil
}

func (h *ScienceHandler) Filename() (string, error) {
	if err := h.checkName("file name"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_v%s.%s", h.stem(), padSequence(h.Version, h.Width), h.Extension), nil
}

func (h *ScienceHandler) UnsequencedPattern() (*Pattern, error) {
	if err := h.checkName("pattern"); err != nil {
		return nil, err
	}
	return &Pattern{Prefix: h.stem() + "_v", Group: SequenceVersion, Suffix: "." + h.Extension}, nil
}

func (h *ScienceHandler) SupportsSequencing() bool { return true }
func (h *ScienceHandler) Sequence() int            { return h.Version }
func (h *ScienceHandler) SetSequence(n int)        { h.Version = n }
func (h *ScienceHandler) IncreaseSequence()        { h.Version++ }
func (h *ScienceHandler) SequenceName() string     { return SequenceVersion }

func (h *ScienceHandler) checkName(op string) error {
	return need("science", op).
		str("level", h.Level).
		str("descriptor", h.Descriptor).
		date("content_date", h.ContentDate).
		str("extension", h.Extension).
		err()
}

func (h *ScienceHandler) stem() string {
	return fmt.Sprintf("%s_%s_%s_%s_%s", mission, instrument, h.Level, h.Descriptor, day(h.ContentDate))
}

// ParseScience recognises imap_mag_<level>_<descr>_<date>_v<NNN>.<ext>.
func ParseScience(name string) (*ScienceHandler, bool) {
	m := scienceName.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	date, ok := parseDay(m[3])
	if !ok {
		return nil, false
	}
	version, err := strconv.Atoi(m[4])
	if err != nil {
		return nil, false
	}
	return &ScienceHandler{Level: m[1], Descriptor: m[2], ContentDate: date, Version: version, Width: len(m[4]), Extension: m[5]}, true
}

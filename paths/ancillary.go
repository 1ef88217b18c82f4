// paths/ancillary.go
package paths

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AncillaryHandler names calibration and offset artifacts that are valid
// from StartDate, optionally until EndDate.
type AncillaryHandler struct {
	Descriptor string // l1b-calibration, l2-offsets, ...
	StartDate  time.Time
	EndDate    time.Time // optional
	Version    int
	Width      int // digits Version was parsed with; at least 3 are rendered
	Extension  string
}

var ancillaryName = regexp.MustCompile(`^imap_mag_(?P<descr>[^_]+(?:-calibration|-offsets))_(?P<start>\d{8})_(?:(?P<end>\d{8})_)?v(?P<version>\d+)\.(?P<ext>\w+)$`)

// ancillaryFolders maps calibration descriptors to their sub-folder.
var ancillaryFolders = map[string]string{
	"ialirt-calibration": "ialirt",
	"l1b-calibration":    "l1b",
	"l1d-calibration":    "l1d",
	"l2-calibration":     "l2-rotation",
}

func (h *AncillaryHandler) sealed()              {}
func (h *AncillaryHandler) Category() Category   { return CategoryAncillary }
func (h *AncillaryHandler) IndexDate() time.Time { return h.StartDate }

func (h *AncillaryHandler) Folder() (string, error) {
	if err := need("ancillary", "folder").str("descriptor", h.Descriptor).date("start_date", h.StartDate).err(); err != nil {
		return "", err
	}
	if sub, ok := ancillaryFolders[h.Descriptor]; ok {
		return "science-ancillary/" + sub, nil
	}
	if strings.HasSuffix(h.Descriptor, "-offsets") {
		return "science-ancillary/l2-offsets/" + yearMonth(h.StartDate), nil
	}
	return "", fmt.Errorf("%w: no ancillary folder for %q", ErrUnknownDescriptor, h.Descriptor)
}

func (h *AncillaryHandler) Filename() (string, error) {
	if err := h.checkName("file name"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%sv%s.%s", h.stem(), padSequence(h.Version, h.Width), h.Extension), nil
}

func (h *AncillaryHandler) UnsequencedPattern() (*Pattern, error) {
	if err := h.checkName("pattern"); err != nil {
		return nil, err
	}
	return &Pattern{Prefix: h.stem() + "v", Group: SequenceVersion, Suffix: "." + h.Extension}, nil
}

func (h *AncillaryHandler) SupportsSequencing() bool { return true }
func (h *AncillaryHandler) Sequence() int            { return h.Version }
func (h *AncillaryHandler) SetSequence(n int)        { h.Version = n }
func (h *AncillaryHandler) IncreaseSequence()        { h.Version++ }
func (h *AncillaryHandler) SequenceName() string     { return SequenceVersion }

func (h *AncillaryHandler) checkName(op string) error {
	return need("ancillary", op).
		str("descriptor", h.Descriptor).
		date("start_date", h.StartDate).
		str("extension", h.Extension).
		err()
}

// stem is everything before the version token, including the trailing "_".
func (h *AncillaryHandler) stem() string {
	s := fmt.Sprintf("%s_%s_%s_%s_", mission, instrument, h.Descriptor, day(h.StartDate))
	if !h.EndDate.IsZero() {
		s += day(h.EndDate) + "_"
	}
	return s
}

// ParseAncillary recognises imap_mag_<descr>_<start>[_<end>]_v<NNN>.<ext>.
func ParseAncillary(name string) (*AncillaryHandler, bool) {
	m := ancillaryName.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	start, ok := parseDay(m[2])
	if !ok {
		return nil, false
	}
	h := &AncillaryHandler{Descriptor: m[1], StartDate: start, Extension: m[5]}
	if m[3] != "" {
		end, ok := parseDay(m[3])
		if !ok {
			return nil, false
		}
		h.EndDate = end
	}
	version, err := strconv.Atoi(m[4])
	if err != nil {
		return nil, false
	}
	h.Version = version
	h.Width = len(m[4])
	return h, true
}

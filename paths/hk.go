// paths/hk.go
package paths

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// HKDescriptorPrefixes are the packet groups a housekeeping descriptor may
// start with (MAG_HSK_PW -> hsk-pw, ILO_APP_NHK -> app-nhk).
var HKDescriptorPrefixes = []string{"app", "ehs", "els", "hsk", "mem", "prog", "tca", "tcc"}

func hkDescriptorExpr() string {
	return `(?P<descr>(?:` + strings.Join(HKDescriptorPrefixes, "|") + `)-[^_]+)`
}

var (
	hkBinaryName  = regexp.MustCompile(`^imap_mag_l0_` + hkDescriptorExpr() + `_(?P<date>\d{8})_(?P<part>\d+)\.(?P<ext>\w+)$`)
	hkDecodedName = regexp.MustCompile(`^imap_mag_l1_` + hkDescriptorExpr() + `_(?P<date>\d{8})_v(?P<version>\d+)\.(?P<ext>\w+)$`)
)

// HKPacketDescriptor converts a packet name to its descriptor by dropping
// the instrument prefix: MAG_HSK_PW -> hsk-pw.
func HKPacketDescriptor(packet string) string {
	d := strings.ReplaceAll(strings.ToLower(packet), "_", "-")
	_, rest, found := strings.Cut(d, "-")
	if !found {
		return d
	}
	return rest
}

type hkIdentity struct {
	Descriptor  string
	ContentDate time.Time
	Extension   string
}

func (id hkIdentity) folder(variant, level string) (string, error) {
	if err := need(variant, "folder").str("descriptor", id.Descriptor).date("content_date", id.ContentDate).err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("hk/%s/%s/%s/%s", instrument, level, id.Descriptor, yearMonth(id.ContentDate)), nil
}

func (id hkIdentity) check(variant, op string) error {
	return need(variant, op).
		str("descriptor", id.Descriptor).
		date("content_date", id.ContentDate).
		str("extension", id.Extension).
		err()
}

func (id hkIdentity) stem(level string) string {
	return fmt.Sprintf("%s_%s_%s_%s_%s", mission, instrument, level, id.Descriptor, day(id.ContentDate))
}

// HKBinaryHandler names raw telemetry chunks. Parts of one day coexist and
// none of them is "latest".
type HKBinaryHandler struct {
	Descriptor  string
	ContentDate time.Time
	Part        int
	Width       int // digits Part was parsed with; at least 3 are rendered
	Extension   string
}

func (h *HKBinaryHandler) id() hkIdentity {
	return hkIdentity{Descriptor: h.Descriptor, ContentDate: h.ContentDate, Extension: h.Extension}
}

func (h *HKBinaryHandler) sealed()              {}
func (h *HKBinaryHandler) Category() Category   { return CategoryHKBinary }
func (h *HKBinaryHandler) IndexDate() time.Time { return h.ContentDate }

func (h *HKBinaryHandler) Folder() (string, error) {
	return h.id().folder("hk-binary", "l0")
}

func (h *HKBinaryHandler) Filename() (string, error) {
	if err := h.id().check("hk-binary", "file name"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s.%s", h.id().stem("l0"), padSequence(h.Part, h.Width), h.Extension), nil
}

func (h *HKBinaryHandler) UnsequencedPattern() (*Pattern, error) {
	if err := h.id().check("hk-binary", "pattern"); err != nil {
		return nil, err
	}
	return &Pattern{Prefix: h.id().stem("l0") + "_", Group: SequencePart, Suffix: "." + h.Extension}, nil
}

func (h *HKBinaryHandler) SupportsSequencing() bool { return true }
func (h *HKBinaryHandler) Sequence() int            { return h.Part }
func (h *HKBinaryHandler) SetSequence(n int)        { h.Part = n }
func (h *HKBinaryHandler) IncreaseSequence()        { h.Part++ }
func (h *HKBinaryHandler) SequenceName() string     { return SequencePart }

// ParseHKBinary recognises imap_mag_l0_<descr>_<date>_<NNN>.<ext>.
func ParseHKBinary(name string) (*HKBinaryHandler, bool) {
	m := hkBinaryName.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	date, ok := parseDay(m[2])
	if !ok {
		return nil, false
	}
	part, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, false
	}
	return &HKBinaryHandler{Descriptor: m[1], ContentDate: date, Part: part, Width: len(m[3]), Extension: m[4]}, true
}

// HKDecodedHandler names decoded housekeeping, versioned.
type HKDecodedHandler struct {
	Descriptor  string
	ContentDate time.Time
	Version     int
	Width       int // digits Version was parsed with; at least 3 are rendered
	Extension   string
}

func (h *HKDecodedHandler) id() hkIdentity {
	return hkIdentity{Descriptor: h.Descriptor, ContentDate: h.ContentDate, Extension: h.Extension}
}

func (h *HKDecodedHandler) sealed()              {}
func (h *HKDecodedHandler) Category() Category   { return CategoryHKDecoded }
func (h *HKDecodedHandler) IndexDate() time.Time { return h.ContentDate }

func (h *HKDecodedHandler) Folder() (string, error) {
	return h.id().folder("hk-decoded", "l1")
}

func (h *HKDecodedHandler) Filename() (string, error) {
	if err := h.id().check("hk-decoded", "file name"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_v%s.%s", h.id().stem("l1"), padSequence(h.Version, h.Width), h.Extension), nil
}

func (h *HKDecodedHandler) UnsequencedPattern() (*Pattern, error) {
	if err := h.id().check("hk-decoded", "pattern"); err != nil {
		return nil, err
	}
	return &Pattern{Prefix: h.id().stem("l1") + "_v", Group: SequenceVersion, Suffix: "." + h.Extension}, nil
}

func (h *HKDecodedHandler) SupportsSequencing() bool { return true }
func (h *HKDecodedHandler) Sequence() int            { return h.Version }
func (h *HKDecodedHandler) SetSequence(n int)        { h.Version = n }
func (h *HKDecodedHandler) IncreaseSequence()        { h.Version++ }
func (h *HKDecodedHandler) SequenceName() string     { return SequenceVersion }

// ParseHKDecoded recognises imap_mag_l1_<descr>_<date>_v<NNN>.<ext>.
func ParseHKDecoded(name string) (*HKDecodedHandler, bool) {
	m := hkDecodedName.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	date, ok := parseDay(m[2])
	if !ok {
		return nil, false
	}
	version, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, false
	}
	return &HKDecodedHandler{Descriptor: m[1], ContentDate: date, Version: version, Width: len(m[3]), Extension: m[4]}, true
}

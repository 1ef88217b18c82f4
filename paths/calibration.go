// paths/calibration.go
package paths

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// LayerKind distinguishes the two halves of a calibration layer.
type LayerKind string

const (
	LayerData LayerKind = "data"
	LayerMeta LayerKind = "meta"
)

func (k LayerKind) extension() string {
	if k == LayerMeta {
		return "json"
	}
	return "csv"
}

// CalibrationLayerHandler names intermediate calibration layers, which do
// not follow the standard science naming.
type CalibrationLayerHandler struct {
	Kind        LayerKind
	Descriptor  string
	ContentDate time.Time
	Version     int
	Width       int // digits Version was parsed with; at least 3 are rendered
}

var layerNames = map[LayerKind]*regexp.Regexp{
	LayerData: regexp.MustCompile(`^imap_mag_(?P<descr>[^_]+)-layer-data_(?P<date>\d{8})_v(?P<version>\d+)\.csv$`),
	LayerMeta: regexp.MustCompile(`^imap_mag_(?P<descr>[^_]+)-layer-meta_(?P<date>\d{8})_v(?P<version>\d+)\.json$`),
}

func (h *CalibrationLayerHandler) sealed()              {}
func (h *CalibrationLayerHandler) Category() Category   { return CategoryCalibrationLayer }
func (h *CalibrationLayerHandler) IndexDate() time.Time { return h.ContentDate }

func (h *CalibrationLayerHandler) Folder() (string, error) {
	if err := need("calibration-layer", "folder").date("content_date", h.ContentDate).err(); err != nil {
		return "", err
	}
	return "calibration/layers/" + yearMonth(h.ContentDate), nil
}

func (h *CalibrationLayerHandler) Filename() (string, error) {
	if err := h.checkName("file name"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_v%s.%s", h.stem(), padSequence(h.Version, h.Width), h.Kind.extension()), nil
}

func (h *CalibrationLayerHandler) UnsequencedPattern() (*Pattern, error) {
	if err := h.checkName("pattern"); err != nil {
		return nil, err
	}
	return &Pattern{Prefix: h.stem() + "_v", Group: SequenceVersion, Suffix: "." + h.Kind.extension()}, nil
}

func (h *CalibrationLayerHandler) SupportsSequencing() bool { return true }
func (h *CalibrationLayerHandler) Sequence() int            { return h.Version }
func (h *CalibrationLayerHandler) SetSequence(n int)        { h.Version = n }
func (h *CalibrationLayerHandler) IncreaseSequence()        { h.Version++ }
func (h *CalibrationLayerHandler) SequenceName() string     { return SequenceVersion }

func (h *CalibrationLayerHandler) checkName(op string) error {
	return need("calibration-layer", op).
		str("kind", string(h.Kind)).
		str("descriptor", h.Descriptor).
		date("content_date", h.ContentDate).
		err()
}

func (h *CalibrationLayerHandler) stem() string {
	return fmt.Sprintf("%s_%s_%s-layer-%s_%s", mission, instrument, h.Descriptor, h.Kind, day(h.ContentDate))
}

// ParseCalibrationLayer recognises layer files of the given kind.
func ParseCalibrationLayer(kind LayerKind, name string) (*CalibrationLayerHandler, bool) {
	re, ok := layerNames[kind]
	if !ok {
		return nil, false
	}
	m := re.FindStringSubmatch(name)
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
	return &CalibrationLayerHandler{Kind: kind, Descriptor: m[1], ContentDate: date, Version: version, Width: len(m[3])}, true
}

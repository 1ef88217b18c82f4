// paths/daily.go
package paths

import (
	"fmt"
	"regexp"
	"time"
)

// IALiRTHandler names daily real-time data files. They are not sequenced:
// a newer download of the same day replaces the old one.
type IALiRTHandler struct {
	unsequenced
	ContentDate time.Time
	Extension   string
}

var ialirtName = regexp.MustCompile(`^imap_ialirt_(?P<date>\d{8})\.(?P<ext>\w+)$`)

func (h *IALiRTHandler) sealed()              {}
func (h *IALiRTHandler) Category() Category   { return CategoryIALiRT }
func (h *IALiRTHandler) IndexDate() time.Time { return h.ContentDate }

func (h *IALiRTHandler) Folder() (string, error) {
	if err := need("ialirt", "folder").date("content_date", h.ContentDate).err(); err != nil {
		return "", err
	}
	return "ialirt/" + yearMonth(h.ContentDate), nil
}

func (h *IALiRTHandler) Filename() (string, error) {
	if err := need("ialirt", "file name").date("content_date", h.ContentDate).str("extension", h.Extension).err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_ialirt_%s.%s", mission, day(h.ContentDate), h.Extension), nil
}

func ParseIALiRT(name string) (*IALiRTHandler, bool) {
	m := ialirtName.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	date, ok := parseDay(m[1])
	if !ok {
		return nil, false
	}
	return &IALiRTHandler{ContentDate: date, Extension: m[2]}, true
}

// QuicklookHandler names rendered figures, one per plot type and day.
type QuicklookHandler struct {
	unsequenced
	PlotType    string
	ContentDate time.Time
	Extension   string
}

var quicklookName = regexp.MustCompile(`^imap_quicklook_(?P<plot>[^_]+)_(?P<date>\d{8})\.(?P<ext>\w+)$`)

func (h *QuicklookHandler) sealed()              {}
func (h *QuicklookHandler) Category() Category   { return CategoryQuicklook }
func (h *QuicklookHandler) IndexDate() time.Time { return h.ContentDate }

func (h *QuicklookHandler) Folder() (string, error) {
	if err := need("quicklook", "folder").str("plot_type", h.PlotType).date("content_date", h.ContentDate).err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("quicklook/%s/%s", h.PlotType, yearMonth(h.ContentDate)), nil
}

func (h *QuicklookHandler) Filename() (string, error) {
	err := need("quicklook", "file name").
		str("plot_type", h.PlotType).
		date("content_date", h.ContentDate).
		str("extension", h.Extension).
		err()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_quicklook_%s_%s.%s", mission, h.PlotType, day(h.ContentDate), h.Extension), nil
}

func ParseQuicklook(name string) (*QuicklookHandler, bool) {
	m := quicklookName.FindStringSubmatch(name)
	if m == nil {
		return nil, false
	}
	date, ok := parseDay(m[2])
	if !ok {
		return nil, false
	}
	return &QuicklookHandler{PlotType: m[1], ContentDate: date, Extension: m[3]}, true
}

// LatestHandler names the "latest" convenience copy kept at a fixed path.
// It is write-only: nothing parses back into it.
type LatestHandler struct {
	unsequenced
	Root       string
	LatestDate time.Time
	Extension  string
}

func (h *LatestHandler) sealed()              {}
func (h *LatestHandler) Category() Category   { return CategoryLatest }
func (h *LatestHandler) IndexDate() time.Time { return h.LatestDate }

func (h *LatestHandler) Folder() (string, error) {
	if err := need("latest", "folder").str("root", h.Root).err(); err != nil {
		return "", err
	}
	return h.Root, nil
}

func (h *LatestHandler) Filename() (string, error) {
	if err := need("latest", "file name").str("extension", h.Extension).err(); err != nil {
		return "", err
	}
	return "latest." + h.Extension, nil
}

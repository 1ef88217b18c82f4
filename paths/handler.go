// paths/handler.go
//
// Package paths maps the logical identity of an instrument artifact
// (category, descriptor, dates, sequence) onto its place in the datastore
// and back again.
package paths

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// Category names a family of artifacts sharing one folder convention.
type Category string

const (
	CategoryScience          Category = "science"
	CategoryAncillary        Category = "ancillary"
	CategoryCalibrationLayer Category = "calibration-layer"
	CategoryHKBinary         Category = "hk-binary"
	CategoryHKDecoded        Category = "hk-decoded"
	CategoryKernel           Category = "kernel"
	CategoryIALiRT           Category = "ialirt"
	CategoryQuicklook        Category = "quicklook"
	CategoryLatest           Category = "latest"
)

const (
	mission    = "imap"
	instrument = "mag"

	SequenceVersion = "version"
	SequencePart    = "part"
)

// Handler is implemented only by the variants in this package.
type Handler interface {
	Category() Category
	Folder() (string, error)
	Filename() (string, error)
	// IndexDate is the content date recorded in the file index; zero if the
	// variant has none.
	IndexDate() time.Time

	SupportsSequencing() bool
	Sequence() int
	SetSequence(n int)
	IncreaseSequence()
	// SequenceName is "version" or "part", empty when not sequenced.
	SequenceName() string
	// UnsequencedPattern matches every sibling of this identity regardless
	// of sequence. It is nil for variants without sequencing.
	UnsequencedPattern() (*Pattern, error)

	sealed()
}

var (
	ErrMissingField      = errors.New("missing required field")
	ErrNoMatchingVariant = errors.New("no matching path variant")
	ErrUnknownDescriptor = errors.New("unknown descriptor")
)

// MissingFieldError lists every required attribute that was absent when a
// path or pattern was rendered.
type MissingFieldError struct {
	Variant   string
	Operation string
	Fields    []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: cannot build %s, missing %s", e.Variant, e.Operation, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// NoMatchingVariantError is returned by Select when no variant parses a name.
type NoMatchingVariantError struct {
	Filename string
}

func (e *NoMatchingVariantError) Error() string {
	return fmt.Sprintf("no path handler matches file %s", e.Filename)
}

func (e *NoMatchingVariantError) Is(target error) bool {
	return target == ErrNoMatchingVariant
}

// required collects absent fields in declaration order.
type required struct {
	variant   string
	operation string
	missing   []string
}

func need(variant, operation string) *required {
	return &required{variant: variant, operation: operation}
}

func (r *required) str(name, v string) *required {
	if v == "" {
		r.missing = append(r.missing, name)
	}
	return r
}

func (r *required) date(name string, v time.Time) *required {
	if v.IsZero() {
		r.missing = append(r.missing, name)
	}
	return r
}

func (r *required) err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return &MissingFieldError{Variant: r.variant, Operation: r.operation, Fields: r.missing}
}

// FullPath is root/folder/filename.
func FullPath(root string, h Handler) (string, error) {
	rel, err := RelativePath(h)
	if err != nil {
		return "", err
	}
	if root == "" {
		return rel, nil
	}
	return path.Join(root, rel), nil
}

// RelativePath is folder/filename, the form stored in the file index.
func RelativePath(h Handler) (string, error) {
	folder, err := h.Folder()
	if err != nil {
		return "", err
	}
	name, err := h.Filename()
	if err != nil {
		return "", err
	}
	if folder == "" {
		return name, nil
	}
	return folder + "/" + name, nil
}

// AdoptSibling sets h to the sequence carried by name, a sibling matched by
// h's unsequenced pattern, keeping the zero-padding name was written with.
// It reports false when name is not a sibling.
func AdoptSibling(h Handler, name string) bool {
	p, err := h.UnsequencedPattern()
	if err != nil || p == nil {
		return false
	}
	m := p.Regexp().FindStringSubmatch(name)
	if m == nil {
		return false
	}
	digits := m[1]
	n, err := strconv.Atoi(digits)
	if err != nil {
		return false
	}

	switch v := h.(type) {
	case *KernelHandler:
		start, end, _ := v.versionDigits()
		v.Name = v.Name[:start] + digits + v.Name[end:]
		return true
	case *ScienceHandler:
		v.Width = len(digits)
	case *AncillaryHandler:
		v.Width = len(digits)
	case *CalibrationLayerHandler:
		v.Width = len(digits)
	case *HKBinaryHandler:
		v.Width = len(digits)
	case *HKDecodedHandler:
		v.Width = len(digits)
	}
	h.SetSequence(n)
	return true
}

// padSequence zero-pads n to width digits, never fewer than 3.
func padSequence(n, width int) string {
	if width < 3 {
		width = 3
	}
	return fmt.Sprintf("%0*d", width, n)
}

func yearMonth(t time.Time) string {
	return t.Format("2006/01")
}

func day(t time.Time) string {
	return t.Format("20060102")
}

func parseDay(s string) (time.Time, bool) {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// unsequenced is embedded by variants that never carry a sequence number.
type unsequenced struct{}

func (unsequenced) SupportsSequencing() bool { return false }
func (unsequenced) Sequence() int            { return 0 }
func (unsequenced) SetSequence(int)          {}
func (unsequenced) IncreaseSequence()        {}
func (unsequenced) SequenceName() string     { return "" }
func (unsequenced) UnsequencedPattern() (*Pattern, error) {
	return nil, nil
}

// paths/kernel.go
package paths

import (
	"path"
	"regexp"
	"strconv"
	"time"
)

// KernelHandler names navigation/reference kernels. Their names follow too
// many external conventions to model, so the raw filename is kept verbatim
// and only a trailing _vNNN token, if any, is treated as the sequence.
type KernelHandler struct {
	KernelType  string // spk, ck, lsk, ...
	Name        string
	ContentDate time.Time // optional
}

var kernelVersion = regexp.MustCompile(`_v(\d{3,})\.`)

type kernelRule struct {
	pattern    *regexp.Regexp
	kernelType string
}

// kernelRules is evaluated in order; the first match decides the type.
var kernelRules = []kernelRule{
	{regexp.MustCompile(`^de.*\.bsp$`), "spk"},
	{regexp.MustCompile(`^L1_de.*\.bsp$`), "spk"},
	{regexp.MustCompile(`^naif.*\.tls$`), "lsk"},
	{regexp.MustCompile(`^pck.*\.tpc$`), "pck"},
	{regexp.MustCompile(`^earth_.*\.bpc$`), "bpc"},
	{regexp.MustCompile(`^imap_.*\.ah\.bc$`), "ck"},
	{regexp.MustCompile(`^imap_.*\.ah\.a$`), "ck"},
	{regexp.MustCompile(`^imap_.*\.ap\.bc$`), "ck"},
	{regexp.MustCompile(`^imap_.*\.ap\.a$`), "ck"},
	{regexp.MustCompile(`^imap_dps_.*\.bc$`), "ck"},
	{regexp.MustCompile(`\.spice\.mk$`), "mk"},
	{regexp.MustCompile(`\.stk_a\.mk$`), "mk"},
	{regexp.MustCompile(`^IMAP_.*\.mk$`), "mk"},
	{regexp.MustCompile(`^imap_mag_metakernel_.*\.tm$`), "mk"},
	{regexp.MustCompile(`\.spin\.csv$`), "spin"},
	{regexp.MustCompile(`\.repoint\.csv$`), "repoint"},
	{regexp.MustCompile(`^imap_(?:launch|nom|recon|pred|noburn|long)_.*\.bsp$`), "spk"},
	{regexp.MustCompile(`\.sff$`), "activities"},
	{regexp.MustCompile(`^imap_science_.*\.tf$`), "fk"},
	{regexp.MustCompile(`\.tf$`), "fk"},
	{regexp.MustCompile(`^imap_sclk_.*\.tsc$`), "sclk"},
}

// KernelType classifies a kernel filename, returning "" when no rule
// matches.
func KernelType(name string) string {
	for _, rule := range kernelRules {
		if rule.pattern.MatchString(name) {
			return rule.kernelType
		}
	}
	return ""
}

func (h *KernelHandler) sealed()              {}
func (h *KernelHandler) Category() Category   { return CategoryKernel }
func (h *KernelHandler) IndexDate() time.Time { return h.ContentDate }

func (h *KernelHandler) Folder() (string, error) {
	if err := need("kernel", "folder").str("kernel_type", h.KernelType).err(); err != nil {
		return "", err
	}
	return "spice/" + h.KernelType, nil
}

func (h *KernelHandler) Filename() (string, error) {
	if err := need("kernel", "file name").str("name", h.Name).err(); err != nil {
		return "", err
	}
	return h.Name, nil
}

// versionDigits locates the digits of the last _vNNN. token.
func (h *KernelHandler) versionDigits() (start, end int, ok bool) {
	all := kernelVersion.FindAllStringSubmatchIndex(h.Name, -1)
	if len(all) == 0 {
		return 0, 0, false
	}
	last := all[len(all)-1]
	return last[2], last[3], true
}

func (h *KernelHandler) SupportsSequencing() bool {
	_, _, ok := h.versionDigits()
	return ok
}

func (h *KernelHandler) Sequence() int {
	start, end, ok := h.versionDigits()
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(h.Name[start:end])
	return n
}

func (h *KernelHandler) SetSequence(n int) {
	start, end, ok := h.versionDigits()
	if !ok {
		return
	}
	h.Name = h.Name[:start] + padSequence(n, end-start) + h.Name[end:]
}

func (h *KernelHandler) IncreaseSequence() {
	h.SetSequence(h.Sequence() + 1)
}

func (h *KernelHandler) SequenceName() string {
	if !h.SupportsSequencing() {
		return ""
	}
	return SequenceVersion
}

func (h *KernelHandler) UnsequencedPattern() (*Pattern, error) {
	if err := need("kernel", "pattern").str("name", h.Name).err(); err != nil {
		return nil, err
	}
	start, end, ok := h.versionDigits()
	if !ok {
		return nil, nil
	}
	return &Pattern{Prefix: h.Name[:start], Group: SequenceVersion, Suffix: h.Name[end:]}, nil
}

// ParseKernel accepts any filename one of the kernel rules recognises.
func ParseKernel(name string) (*KernelHandler, bool) {
	kernelType := KernelType(name)
	if kernelType == "" {
		return nil, false
	}
	return &KernelHandler{KernelType: kernelType, Name: name}, true
}

// ParseKernelPath prefers the folder a kernel already lives in
// (.../spice/<type>/<name>) over the filename rules.
func ParseKernelPath(p string) (*KernelHandler, bool) {
	dir, name := path.Split(path.Clean(p))
	parent := path.Base(path.Clean(dir))
	if path.Base(path.Dir(path.Clean(dir))) == "spice" && parent != "" {
		return &KernelHandler{KernelType: parent, Name: name}, true
	}
	return ParseKernel(name)
}

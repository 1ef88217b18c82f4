// paths/selector.go
package paths

import (
	"path"
)

// Variant is one entry in the selector's priority list.
type Variant struct {
	Name  string
	Parse func(filename string) (Handler, bool)
}

func wrap[T Handler](parse func(string) (T, bool)) func(string) (Handler, bool) {
	return func(name string) (Handler, bool) {
		h, ok := parse(name)
		if !ok {
			return nil, false
		}
		return h, true
	}
}

// Variants is tried top to bottom. More constrained patterns come first:
// an ancillary name with an end date would otherwise be claimed by a
// looser pattern, and kernels accept arbitrary names so they go last.
var Variants = []Variant{
	{Name: "ancillary", Parse: wrap(ParseAncillary)},
	{Name: "calibration-layer-data", Parse: wrap(func(n string) (*CalibrationLayerHandler, bool) { return ParseCalibrationLayer(LayerData, n) })},
	{Name: "calibration-layer-meta", Parse: wrap(func(n string) (*CalibrationLayerHandler, bool) { return ParseCalibrationLayer(LayerMeta, n) })},
	{Name: "hk-binary", Parse: wrap(ParseHKBinary)},
	{Name: "hk-decoded", Parse: wrap(ParseHKDecoded)},
	{Name: "science", Parse: wrap(ParseScience)},
	{Name: "ialirt", Parse: wrap(ParseIALiRT)},
	{Name: "quicklook", Parse: wrap(ParseQuicklook)},
	{Name: "kernel", Parse: wrap(ParseKernel)},
}

// Select returns the first variant that parses the base name of file.
func Select(file string) (Handler, error) {
	name := path.Base(file)
	for _, v := range Variants {
		if h, ok := v.Parse(name); ok {
			return h, nil
		}
	}
	return nil, &NoMatchingVariantError{Filename: name}
}

// SelectPath is Select, but kernels already filed under spice/<type>/
// keep that type.
func SelectPath(file string) (Handler, error) {
	h, err := Select(file)
	if err != nil {
		return nil, err
	}
	if _, isKernel := h.(*KernelHandler); isKernel {
		if k, ok := ParseKernelPath(file); ok {
			return k, nil
		}
	}
	return h, nil
}

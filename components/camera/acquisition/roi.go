package acquisition

import "github.com/pkg/errors"

// ROIMode names which pixel reduction is authoritative on an axis.
type ROIMode string

const (
	// ROIModeBinning means neighbouring pixels are summed.
	ROIModeBinning ROIMode = "bin"
	// ROIModeSubsampling means pixels are skipped.
	ROIModeSubsampling ROIMode = "subsample"
)

// AxisROI is the region and reduction along one sensor axis. At most one of Bin and Sub is above
// 1, and when one is, Mode names it.
type AxisROI struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Bin   int     `json:"bin"`
	Sub   int     `json:"sub"`
	Mode  ROIMode `json:"mode"`
}

// Factor returns the reduction factor of the authoritative mode.
func (a AxisROI) Factor() int {
	if a.Mode == ROIModeSubsampling {
		return a.Sub
	}
	return a.Bin
}

// Pixels returns the number of output pixels along the axis.
func (a AxisROI) Pixels() int {
	f := a.Factor()
	if f < 1 {
		f = 1
	}
	return (a.End - a.Start) / f
}

func (a *AxisROI) setBinning(factor int) {
	a.Bin = factor
	if factor > 1 {
		a.Sub = 1
		a.Mode = ROIModeBinning
	}
}

func (a *AxisROI) setSubsampling(factor int) {
	a.Sub = factor
	if factor > 1 {
		a.Bin = 1
		a.Mode = ROIModeSubsampling
	}
}

// ROI is the region of interest of a camera: a rectangle on the sensor plus per axis reduction.
type ROI struct {
	H AxisROI `json:"horizontal"`
	V AxisROI `json:"vertical"`
}

// FullROI returns the whole sensor with no reduction.
func FullROI(width, height int) ROI {
	return ROI{
		H: AxisROI{Start: 0, End: width, Bin: 1, Sub: 1, Mode: ROIModeBinning},
		V: AxisROI{Start: 0, End: height, Bin: 1, Sub: 1, Mode: ROIModeBinning},
	}
}

// FrameSize returns the output frame dimensions in pixels.
func (r ROI) FrameSize() (width, height int) {
	return r.H.Pixels(), r.V.Pixels()
}

// Reduction returns the horizontal and vertical reduction factors.
func (r ROI) Reduction() (h, v int) {
	return r.H.Factor(), r.V.Factor()
}

// WithRegion returns r with its rectangle replaced, clamped to a width x height sensor.
func (r ROI) WithRegion(hstart, hend, vstart, vend, width, height int) (ROI, error) {
	h, err := clampAxis(hstart, hend, width)
	if err != nil {
		return r, errors.Wrap(err, "horizontal")
	}
	v, err := clampAxis(vstart, vend, height)
	if err != nil {
		return r, errors.Wrap(err, "vertical")
	}
	out := r
	out.H.Start, out.H.End = h[0], h[1]
	out.V.Start, out.V.End = v[0], v[1]
	if err := out.checkFit(out.H.Factor(), out.V.Factor()); err != nil {
		return r, err
	}
	return out, nil
}

// WithBinning returns r with binning set; enabling binning on an axis forces its subsampling to 1.
func (r ROI) WithBinning(hbin, vbin int) (ROI, error) {
	if err := checkFactors(hbin, vbin); err != nil {
		return r, errors.Wrap(err, "binning")
	}
	if err := r.checkFit(hbin, vbin); err != nil {
		return r, errors.Wrap(err, "binning")
	}
	r.H.setBinning(hbin)
	r.V.setBinning(vbin)
	return r, nil
}

// WithSubsampling returns r with subsampling set; enabling subsampling on an axis forces its
// binning to 1.
func (r ROI) WithSubsampling(hsub, vsub int) (ROI, error) {
	if err := checkFactors(hsub, vsub); err != nil {
		return r, errors.Wrap(err, "subsampling")
	}
	if err := r.checkFit(hsub, vsub); err != nil {
		return r, errors.Wrap(err, "subsampling")
	}
	r.H.setSubsampling(hsub)
	r.V.setSubsampling(vsub)
	return r, nil
}

func clampAxis(start, end, size int) ([2]int, error) {
	if start < 0 {
		start = 0
	}
	if end > size || end <= 0 {
		end = size
	}
	if start >= end {
		return [2]int{}, errors.Errorf("empty region [%d, %d) on a %d pixel axis", start, end, size)
	}
	return [2]int{start, end}, nil
}

// checkFit rejects reduction factors that would leave no output pixel on an axis.
func (r ROI) checkFit(h, v int) error {
	if width := r.H.End - r.H.Start; h > width {
		return errors.Errorf("horizontal factor %d exceeds the %d pixel region", h, width)
	}
	if height := r.V.End - r.V.Start; v > height {
		return errors.Errorf("vertical factor %d exceeds the %d pixel region", v, height)
	}
	return nil
}

func checkFactors(h, v int) error {
	if h < 1 || v < 1 {
		return errors.Errorf("reduction factors must be at least 1, got (%d, %d)", h, v)
	}
	return nil
}

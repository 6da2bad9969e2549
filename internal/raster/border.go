package raster

// Border-noise removal for GRD intensity images. Sentinel-1 GRD products
// carry radiometric artefacts along the left and right image margins. The
// routine scans the outer columns from each edge: a column whose mean
// intensity is at or below the threshold is noise and is zeroed; the first
// brighter column marks the transition zone, where a fixed number of
// additional columns is zeroed before the image interior is accepted as
// valid.

const (
	borderMargin    = 3000
	borderLookAhead = 150
	borderThreshold = 100
)

// RemoveBorderNoise zeroes the noisy margin columns in place. Images
// narrower than twice the scan margin are left untouched, as are subset
// products, which have no original margins.
func RemoveBorderNoise(r *Raster) {
	if r.Width < 2*borderMargin {
		return
	}
	removeLeftBorder(r)
	removeRightBorder(r)
}

func columnMean(r *Raster, x int) float64 {
	var sum float64
	for y := 0; y < r.Height; y++ {
		sum += float64(r.At(x, y))
	}
	return sum / float64(r.Height)
}

func zeroColumn(r *Raster, x int) {
	for y := 0; y < r.Height; y++ {
		r.Set(x, y, 0)
	}
}

func removeLeftBorder(r *Raster) {
	for x := 0; x < borderMargin; x++ {
		if columnMean(r, x) <= borderThreshold {
			zeroColumn(r, x)
			continue
		}
		end := x + borderLookAhead
		if end > borderMargin {
			end = borderMargin
		}
		for y := x; y < end; y++ {
			zeroColumn(r, y)
		}
		return
	}
}

func removeRightBorder(r *Raster) {
	for x := r.Width - 1; x >= r.Width-borderMargin; x-- {
		if columnMean(r, x) <= borderThreshold {
			zeroColumn(r, x)
			continue
		}
		end := x - borderLookAhead
		if end < r.Width-borderMargin {
			end = r.Width - borderMargin
		}
		for y := x; y > end; y-- {
			zeroColumn(r, y)
		}
		return
	}
}

// RemoveBorderNoiseFile applies border-noise removal in place to an ENVI
// intensity image inside a BEAM-DIMAP .data directory.
func RemoveBorderNoiseFile(imgPath string) error {
	r, err := ReadENVI(imgPath)
	if err != nil {
		return err
	}
	RemoveBorderNoise(r)
	return WriteENVI(imgPath, r)
}

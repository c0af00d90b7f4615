package motion

import (
	"fmt"
	"image"
	"math"
)

// Params tunes the frame differencing pipeline.
type Params struct {
	BlurKernel           int // odd Gaussian kernel size
	Threshold            int // intensity cut after smoothing
	DilateIterations     int
	SensitivityThreshold int // minimum region area, exclusive
	MinContours          int // large regions needed to confirm motion
}

// DefaultParams returns the tuned front door settings.
func DefaultParams() Params {
	return Params{
		BlurKernel:           21,
		Threshold:            25,
		DilateIterations:     3,
		SensitivityThreshold: 500,
		MinContours:          3,
	}
}

// Analysis is the outcome of comparing two frames.
type Analysis struct {
	Regions      int
	LargeRegions int
	Motion       bool
}

// Analyze runs the full pipeline on a frame pair: absolute difference,
// intensity, Gaussian smoothing, threshold, dilation, region extraction.
func Analyze(a, b *image.RGBA, p Params) (Analysis, error) {
	if a.Bounds().Size() != b.Bounds().Size() {
		return Analysis{}, fmt.Errorf("frame size mismatch: %v vs %v", a.Bounds().Size(), b.Bounds().Size())
	}
	size := a.Bounds().Size()
	w, h := size.X, size.Y

	gray := diffIntensity(a, b)
	blurred := gaussianBlur(gray, w, h, p.BlurKernel)
	mask := threshold(blurred, p.Threshold)
	for i := 0; i < p.DilateIterations; i++ {
		mask = dilate(mask, w, h)
	}
	return classifyMask(mask, w, h, p), nil
}

// classifyMask counts regions in a binary mask and applies the
// large-region rule to each region's border area.
func classifyMask(mask []bool, w, h int, p Params) Analysis {
	areas := regionAreas(mask, w, h)
	res := Analysis{Regions: len(areas)}
	for _, area := range areas {
		if area > float64(p.SensitivityThreshold) {
			res.LargeRegions++
		}
	}
	res.Motion = res.LargeRegions >= p.MinContours
	return res
}

// diffIntensity returns |a-b| per channel converted to luma with the
// BT.601 weights in 14-bit fixed point.
func diffIntensity(a, b *image.RGBA) []uint8 {
	size := a.Bounds().Size()
	w, h := size.X, size.Y
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride:]
		rb := b.Pix[y*b.Stride:]
		for x := 0; x < w; x++ {
			i := x * 4
			dr := absDiff(ra[i], rb[i])
			dg := absDiff(ra[i+1], rb[i+1])
			db := absDiff(ra[i+2], rb[i+2])
			out[y*w+x] = uint8((dr*4899 + dg*9617 + db*1868 + 8192) >> 14)
		}
	}
	return out
}

func absDiff(x, y uint8) int {
	if x > y {
		return int(x - y)
	}
	return int(y - x)
}

// gaussianKernel builds a normalized 1-D kernel. sigma follows the usual
// derivation from size when none is given.
func gaussianKernel(size int) []float64 {
	sigma := 0.3*((float64(size)-1)*0.5-1) + 0.8
	k := make([]float64, size)
	half := float64(size-1) / 2
	var sum float64
	for i := range k {
		d := float64(i) - half
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// reflect101 maps an out-of-range index into [0,n) mirroring around the
// edge pixel without repeating it (dcb|abcd|cba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// gaussianBlur applies a separable size x size Gaussian.
func gaussianBlur(src []uint8, w, h, size int) []uint8 {
	if size <= 1 {
		out := make([]uint8, len(src))
		copy(out, src)
		return out
	}
	k := gaussianKernel(size)
	r := size / 2

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var acc float64
			for j, kv := range k {
				acc += kv * float64(row[reflect101(x+j-r, w)])
			}
			tmp[y*w+x] = acc
		}
	}

	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for j, kv := range k {
				acc += kv * tmp[reflect101(y+j-r, h)*w+x]
			}
			out[y*w+x] = uint8(math.Min(255, math.Round(acc)))
		}
	}
	return out
}

func threshold(src []uint8, t int) []bool {
	out := make([]bool, len(src))
	for i, v := range src {
		out[i] = int(v) > t
	}
	return out
}

// dilate applies one pass of a 3x3 rectangular structuring element.
// Pixels outside the image never contribute.
func dilate(src []bool, w, h int) []bool {
	horiz := make([]bool, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			horiz[i] = src[i] || (x > 0 && src[i-1]) || (x < w-1 && src[i+1])
		}
	}
	out := make([]bool, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			out[i] = horiz[i] || (y > 0 && horiz[i-w]) || (y < h-1 && horiz[i+w])
		}
	}
	return out
}

// regionAreas labels 8-connected foreground regions and returns the area
// of each region's outer border: the polygon through the centres of its
// border pixels, so a solid n x n block measures (n-1)^2. Holes are not
// subtracted and a one pixel wide line has no area.
func regionAreas(mask []bool, w, h int) []float64 {
	seen := make([]bool, len(mask))
	var areas []float64
	stack := make([]int, 0, 1024)

	for start, on := range mask {
		if !on || seen[start] {
			continue
		}
		// Raster order makes start the top-left pixel of its region, so
		// its west neighbour is background.
		areas = append(areas, polygonArea(traceBorder(mask, w, h, start%w, start/w)))

		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			for _, d := range neighbours {
				nx, ny := x+d.X, y+d.Y
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				j := ny*w + nx
				if mask[j] && !seen[j] {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
	}
	return areas
}

// neighbours lists the 8 directions counter-clockwise on screen, starting
// east. Index+1 turns counter-clockwise, index-1 clockwise.
var neighbours = [8]image.Point{
	{1, 0}, {1, -1}, {0, -1}, {-1, -1}, {-1, 0}, {-1, 1}, {0, 1}, {1, 1},
}

const west = 4

// traceBorder follows the outer border of the region containing (sx, sy)
// with the Suzuki-Abe border following rule and returns the border pixels
// in order. (sx-1, sy) must be background.
func traceBorder(mask []bool, w, h, sx, sy int) []image.Point {
	on := func(p image.Point) bool {
		return p.X >= 0 && p.X < w && p.Y >= 0 && p.Y < h && mask[p.Y*w+p.X]
	}
	start := image.Pt(sx, sy)

	// Clockwise from the west neighbour for the last pixel of the border.
	first := -1
	for k := 0; k < 8; k++ {
		d := (west - k + 8) % 8
		if on(start.Add(neighbours[d])) {
			first = d
			break
		}
	}
	if first < 0 {
		return []image.Point{start}
	}
	last := start.Add(neighbours[first])

	border := []image.Point{}
	cur, back := start, first
	for {
		// Counter-clockwise from just after the pixel we came from.
		next := -1
		for k := 1; k <= 8; k++ {
			d := (back + k) % 8
			if on(cur.Add(neighbours[d])) {
				next = d
				break
			}
		}
		border = append(border, cur)
		nxt := cur.Add(neighbours[next])
		if nxt == start && cur == last {
			return border
		}
		cur, back = nxt, (next+4)%8
	}
}

// polygonArea is the shoelace area of a closed polygon.
func polygonArea(pts []image.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var twice int
	for i, p := range pts {
		q := pts[(i+1)%len(pts)]
		twice += p.X*q.Y - q.X*p.Y
	}
	if twice < 0 {
		twice = -twice
	}
	return float64(twice) / 2
}

package features

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Edge detection thresholds. Changing them changes every downstream count.
const (
	CannyLow  = 50
	CannyHigh = 150
)

// tan(22.5°) and tan(67.5°), the sector boundaries for gradient direction.
var (
	tan22 = math.Tan(math.Pi / 8)
	tan67 = math.Tan(3 * math.Pi / 8)
)

// grayMap is a row-major single channel image.
type grayMap struct {
	w, h int
	pix  []uint8
}

// toGray converts img to 8-bit luminance using imaging's grayscale weights.
func toGray(img image.Image) grayMap {
	g := imaging.Grayscale(img)
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := grayMap{w: w, h: h, pix: make([]uint8, w*h)}
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w*4]
		for x := 0; x < w; x++ {
			out.pix[y*w+x] = row[x*4]
		}
	}
	return out
}

// at returns the pixel at (x, y) with reflect-101 border handling.
func (g grayMap) at(x, y int) int {
	x = reflect101(x, g.w)
	y = reflect101(y, g.h)
	return int(g.pix[y*g.w+x])
}

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

// edgeMap is a binary image; true marks an edge pixel.
type edgeMap struct {
	w, h int
	pix  []bool
}

func (e edgeMap) get(x, y int) bool {
	if x < 0 || y < 0 || x >= e.w || y >= e.h {
		return false
	}
	return e.pix[y*e.w+x]
}

// canny runs Sobel 3x3 gradients, L1 magnitude, non-maximum suppression and
// hysteresis thresholding with 8-connectivity. No pre-blur is applied.
func canny(g grayMap, low, high int) edgeMap {
	w, h := g.w, g.h
	gx := make([]int, w*h)
	gy := make([]int, w*h)
	mag := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := (g.at(x+1, y-1) + 2*g.at(x+1, y) + g.at(x+1, y+1)) -
				(g.at(x-1, y-1) + 2*g.at(x-1, y) + g.at(x-1, y+1))
			dy := (g.at(x-1, y+1) + 2*g.at(x, y+1) + g.at(x+1, y+1)) -
				(g.at(x-1, y-1) + 2*g.at(x, y-1) + g.at(x+1, y-1))
			i := y*w + x
			gx[i], gy[i] = dx, dy
			mag[i] = iabs(dx) + iabs(dy)
		}
	}

	magAt := func(x, y int) int {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	const (
		none = iota
		weak
		strong
	)
	class := make([]uint8, w*h)
	stack := make([]int, 0, 64)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := math.Abs(float64(gx[i])), math.Abs(float64(gy[i]))
			var keep bool
			switch {
			case ay < ax*tan22:
				keep = m > magAt(x-1, y) && m >= magAt(x+1, y)
			case ay > ax*tan67:
				keep = m > magAt(x, y-1) && m >= magAt(x, y+1)
			default:
				s := 1
				if (gx[i] < 0) != (gy[i] < 0) {
					s = -1
				}
				keep = m > magAt(x-s, y-1) && m > magAt(x+s, y+1)
			}
			if !keep {
				continue
			}
			if m > high {
				class[i] = strong
				stack = append(stack, i)
			} else {
				class[i] = weak
			}
		}
	}

	edges := edgeMap{w: w, h: h, pix: make([]bool, w*h)}
	for _, i := range stack {
		edges.pix[i] = true
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if class[j] == weak && !edges.pix[j] {
					edges.pix[j] = true
					stack = append(stack, j)
				}
			}
		}
	}
	return edges
}

func iabs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

package features

import "math"

type point struct{ x, y int }

// Neighbour offsets in counter-clockwise order starting east (y grows downwards).
var ring = [8]point{
	{1, 0}, {1, -1}, {0, -1}, {-1, -1},
	{-1, 0}, {-1, 1}, {0, 1}, {1, 1},
}

const west = 4

// externalContours returns the outer border of every edge component that is not
// enclosed by another component. Foreground is 8-connected and background is
// 4-connected; the area outside the image counts as background.
func externalContours(e edgeMap) [][]point {
	w, h := e.w, e.h
	if w == 0 || h == 0 {
		return nil
	}

	// Flood the background reachable from a virtual one-pixel frame.
	pw, ph := w+2, h+2
	outside := make([]bool, pw*ph)
	queue := make([]int, 0, 2*(pw+ph))
	push := func(px, py int) {
		i := py*pw + px
		if outside[i] || e.get(px-1, py-1) {
			return
		}
		outside[i] = true
		queue = append(queue, i)
	}
	for px := 0; px < pw; px++ {
		push(px, 0)
		push(px, ph-1)
	}
	for py := 1; py < ph-1; py++ {
		push(0, py)
		push(pw-1, py)
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		px, py := i%pw, i/pw
		if px > 0 {
			push(px-1, py)
		}
		if px < pw-1 {
			push(px+1, py)
		}
		if py > 0 {
			push(px, py-1)
		}
		if py < ph-1 {
			push(px, py+1)
		}
	}
	touchesOutside := func(x, y int) bool {
		px, py := x+1, y+1
		return outside[py*pw+px-1] || outside[py*pw+px+1] ||
			outside[(py-1)*pw+px] || outside[(py+1)*pw+px]
	}

	// Label 8-connected components in raster order so each label's first pixel is
	// its top-left border start.
	label := make([]int, w*h)
	var contours [][]point
	next := 0
	stack := make([]int, 0, 64)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if !e.pix[i] || label[i] != 0 {
				continue
			}
			next++
			label[i] = next
			external := false
			stack = append(stack[:0], i)
			for len(stack) > 0 {
				j := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cx, cy := j%w, j/w
				if !external && touchesOutside(cx, cy) {
					external = true
				}
				for _, d := range ring {
					nx, ny := cx+d.x, cy+d.y
					if !e.get(nx, ny) {
						continue
					}
					k := ny*w + nx
					if label[k] == 0 {
						label[k] = next
						stack = append(stack, k)
					}
				}
			}
			if external {
				contours = append(contours, traceBorder(e, point{x, y}))
			}
		}
	}
	return contours
}

// traceBorder follows the outer border of the component whose top-left pixel is
// start, visiting border pixels counter-clockwise. The pixel west of start is
// background by construction.
func traceBorder(e edgeMap, start point) []point {
	at := func(p point, d int) point {
		o := ring[((d%8)+8)%8]
		return point{p.x + o.x, p.y + o.y}
	}

	// Search clockwise from west for the first foreground neighbour.
	first := -1
	for k := 0; k < 8; k++ {
		d := west - k
		if n := at(start, d); e.get(n.x, n.y) {
			first = ((d % 8) + 8) % 8
			break
		}
	}
	if first < 0 {
		return []point{start}
	}

	p1 := at(start, first)
	cur := start
	back := first
	contour := []point{start}
	for {
		// Search counter-clockwise starting just after the pixel we came from.
		var nextDir int
		for k := 1; k <= 8; k++ {
			d := (back + k) % 8
			if n := at(cur, d); e.get(n.x, n.y) {
				nextDir = d
				break
			}
		}
		nxt := at(cur, nextDir)
		if nxt == start && cur == p1 {
			return contour
		}
		contour = append(contour, nxt)
		back = (nextDir + 4) % 8
		cur = nxt
	}
}

// contourArea is the absolute shoelace area of the closed polygon pts.
func contourArea(pts []point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var sum int
	for i, p := range pts {
		q := pts[(i+1)%len(pts)]
		sum += p.x*q.y - q.x*p.y
	}
	return math.Abs(float64(sum)) / 2
}

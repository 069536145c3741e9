package viewer

import (
	"image/color"
	"math"

	"statesync/pkg/core"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/basicfont"
)

var (
	hudFont = text.NewGoXFace(basicfont.Face7x13)

	localColor   = color.RGBA{235, 87, 87, 255}
	remoteColor  = color.RGBA{86, 156, 235, 255}
	historyColor = color.RGBA{235, 87, 87, 90}
	gridColor    = color.RGBA{255, 255, 255, 18}
	hudColor     = color.RGBA{220, 230, 240, 255}
	logColor     = color.RGBA{160, 200, 160, 255}
)

const (
	entityRadius = 10
	gridSpacing  = 50.0 // 世界单位
)

// camera 以本地实体为中心的视图
type camera struct {
	cx, cy float64
}

func (c camera) toScreen(x, y float64) (float32, float32) {
	sx := (x-c.cx)*pixelsPerUnit + ScreenWidth/2
	sy := (y-c.cy)*pixelsPerUnit + ScreenHeight/2
	return float32(sx), float32(sy)
}

func drawGrid(screen *ebiten.Image, cam camera) {
	halfW := ScreenWidth / 2 / pixelsPerUnit
	halfH := ScreenHeight / 2 / pixelsPerUnit

	for x := math.Floor((cam.cx-halfW)/gridSpacing) * gridSpacing; x <= cam.cx+halfW; x += gridSpacing {
		sx, _ := cam.toScreen(x, 0)
		vector.StrokeLine(screen, sx, 0, sx, ScreenHeight, 1, gridColor, false)
	}
	for y := math.Floor((cam.cy-halfH)/gridSpacing) * gridSpacing; y <= cam.cy+halfH; y += gridSpacing {
		_, sy := cam.toScreen(0, y)
		vector.StrokeLine(screen, 0, sy, ScreenWidth, sy, 1, gridColor, false)
	}
}

func drawEntity(screen *ebiten.Image, cam camera, s core.KinematicState, clr color.RGBA, label string) {
	x, y := cam.toScreen(s.X, s.Y)
	vector.DrawFilledCircle(screen, x, y, entityRadius, clr, true)
	vector.StrokeCircle(screen, x, y, entityRadius, 2, color.RGBA{0, 0, 0, 160}, true)

	// 速度方向
	if s.VX != 0 || s.VY != 0 {
		l := math.Hypot(s.VX, s.VY)
		ex := x + float32(s.VX/l)*entityRadius*1.8
		ey := y + float32(s.VY/l)*entityRadius*1.8
		vector.StrokeLine(screen, x, y, ex, ey, 2, color.RGBA{255, 255, 255, 200}, true)
	}
	drawText(screen, int(x)-entityRadius, int(y)-entityRadius-4, label, hudColor)
}

func drawHistory(screen *ebiten.Image, cam camera, history []core.KinematicState) {
	for _, s := range history {
		x, y := cam.toScreen(s.X, s.Y)
		vector.DrawFilledCircle(screen, x, y, 2, historyColor, false)
	}
}

func drawText(screen *ebiten.Image, x, y int, msg string, clr color.Color) {
	options := &text.DrawOptions{}
	options.GeoM.Translate(float64(x), float64(y))
	options.ColorScale.ScaleWithColor(clr)
	text.Draw(screen, msg, hudFont, options)
}

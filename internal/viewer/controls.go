package viewer

import "github.com/hajimehoshi/ebiten/v2"

// ControlScheme 按键方案
type ControlScheme int

const (
	ControlWASD  ControlScheme = iota // WASD + 空格键
	ControlArrow                      // 方向键 + 回车键
)

func (c ControlScheme) String() string {
	switch c {
	case ControlWASD:
		return "WASD+空格"
	case ControlArrow:
		return "方向键+回车"
	}
	return "未知"
}

// ParseControlScheme 解析命令行参数
func ParseControlScheme(s string) ControlScheme {
	if s == "arrow" {
		return ControlArrow
	}
	return ControlWASD
}

// ButtonPrimary 主按键在 Input.Buttons 中的位
const ButtonPrimary uint32 = 1 << 0

type keyTracker struct {
	prev map[ebiten.Key]bool
}

func (k *keyTracker) JustPressed(key ebiten.Key) bool {
	if k.prev == nil {
		k.prev = make(map[ebiten.Key]bool)
	}
	now := ebiten.IsKeyPressed(key)
	prev := k.prev[key]
	k.prev[key] = now
	return now && !prev
}

// readAxes 读取方向与按键
func readAxes(scheme ControlScheme) (mx, my float64, buttons uint32) {
	var up, down, left, right, action bool
	switch scheme {
	case ControlArrow:
		up = ebiten.IsKeyPressed(ebiten.KeyArrowUp)
		down = ebiten.IsKeyPressed(ebiten.KeyArrowDown)
		left = ebiten.IsKeyPressed(ebiten.KeyArrowLeft)
		right = ebiten.IsKeyPressed(ebiten.KeyArrowRight)
		action = ebiten.IsKeyPressed(ebiten.KeyEnter)
	default:
		up = ebiten.IsKeyPressed(ebiten.KeyW)
		down = ebiten.IsKeyPressed(ebiten.KeyS)
		left = ebiten.IsKeyPressed(ebiten.KeyA)
		right = ebiten.IsKeyPressed(ebiten.KeyD)
		action = ebiten.IsKeyPressed(ebiten.KeySpace)
	}
	if up {
		my--
	}
	if down {
		my++
	}
	if left {
		mx--
	}
	if right {
		mx++
	}
	if action {
		buttons |= ButtonPrimary
	}
	return mx, my, buttons
}

// Package viewer 基于 Ebiten 的调试画面：驱动客户端会话并绘制本地预测、远端插值与连接状态。
package viewer

import (
	"fmt"
	"image/color"
	"log"
	"slices"
	"time"

	"statesync/internal/client"
	"statesync/pkg/core"

	"github.com/hajimehoshi/ebiten/v2"
)

const (
	ScreenWidth  = 800
	ScreenHeight = 600

	// 世界单位到像素的缩放
	pixelsPerUnit = 1.5

	maxLogLines = 6
)

// Viewer 调试画面（Ebiten 游戏循环）
type Viewer struct {
	session *client.Session
	scheme  ControlScheme
	input   keyTracker
	logger  *log.Logger

	lastUpdate  time.Time
	showHistory bool
	corrections int
	lines       []string
}

// New 创建调试画面并订阅会话事件
func New(session *client.Session, scheme ControlScheme, logger *log.Logger) *Viewer {
	if logger == nil {
		logger = log.Default()
	}
	v := &Viewer{
		session:     session,
		scheme:      scheme,
		logger:      logger,
		showHistory: true,
	}

	for _, name := range []string{
		client.EventConnected, client.EventReconnecting, client.EventReconnected,
		client.EventDisconnected, client.EventRetriesExhausted, client.EventFatal,
		client.EventError, client.EventRoomJoined, client.EventEntityAdded, client.EventEntityRemoved,
	} {
		session.Subscribe(name, v.record)
	}
	session.Subscribe(client.EventCorrection, func(ev client.Event) error {
		if ev.Reconcile.Outcome == client.ReconcileCorrected {
			v.corrections++
		}
		return nil
	})
	return v
}

func (v *Viewer) record(ev client.Event) error {
	line := ev.Name
	switch {
	case ev.Code != "":
		line += fmt.Sprintf(" %s %s", ev.Code, ev.Message)
	case ev.Name == client.EventReconnecting:
		line += fmt.Sprintf(" #%d in %v", ev.Attempt, ev.Delay.Round(time.Millisecond))
	case ev.EntityID != "":
		line += " " + shortID(ev.EntityID)
	case ev.RoomID != "":
		line += " " + ev.RoomID
	}
	v.logger.Printf("事件: %s", line)

	v.lines = append(v.lines, line)
	if len(v.lines) > maxLogLines {
		v.lines = v.lines[len(v.lines)-maxLogLines:]
	}
	return nil
}

// Update 每帧：处理按键并推进会话
func (v *Viewer) Update() error {
	now := time.Now()
	dt := float64(core.FrameMillis)
	if !v.lastUpdate.IsZero() {
		dt = float64(now.Sub(v.lastUpdate)) / float64(time.Millisecond)
	}
	v.lastUpdate = now

	if v.input.JustPressed(ebiten.KeyR) {
		reconnect := v.session.ReconnectNow
		if v.session.State() == client.StateDisconnected {
			// 已终止的连接只能重新发起
			reconnect = v.session.Connect
		}
		if err := reconnect(); err != nil {
			v.logger.Printf("重连失败: %v", err)
		}
	}
	if v.input.JustPressed(ebiten.KeyH) {
		v.showHistory = !v.showHistory
	}
	if v.input.JustPressed(ebiten.KeyJ) {
		if err := v.session.JoinRoom("arena"); err != nil {
			v.logger.Printf("加入房间失败: %v", err)
		}
	}

	mx, my, buttons := readAxes(v.scheme)
	v.session.Tick(core.Input{MoveX: mx, MoveY: my, Buttons: buttons}, dt)
	return nil
}

// Draw 绘制
func (v *Viewer) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{24, 28, 36, 255})

	local := v.session.LocalState()
	cam := camera{cx: local.X, cy: local.Y}
	drawGrid(screen, cam)

	remotes := v.session.RemoteStates()
	ids := make([]string, 0, len(remotes))
	for id := range remotes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		drawEntity(screen, cam, remotes[id], remoteColor, shortID(id))
	}

	if v.showHistory {
		drawHistory(screen, cam, v.session.Predictor().History())
	}
	if v.session.EntityID() != "" {
		drawEntity(screen, cam, local, localColor, "you")
	}

	v.drawHUD(screen, len(remotes))
}

func (v *Viewer) drawHUD(screen *ebiten.Image, remotes int) {
	clock := v.session.Clock()
	rows := []string{
		fmt.Sprintf("state: %s  entity: %s  room: %q", v.session.State(), shortID(v.session.EntityID()), v.session.RoomID()),
		fmt.Sprintf("rtt: %dms  offset: %.1fms  samples: %d", clock.RTT(), clock.Offset(), clock.Samples()),
		fmt.Sprintf("remotes: %d  pending inputs: %d  corrections: %d  dropped: %d",
			remotes, len(v.session.Predictor().PendingInputs()), v.corrections, v.session.DroppedFrames()),
		fmt.Sprintf("controls: %s  [R] reconnect  [J] join arena  [H] history", v.scheme),
	}
	y := 18
	for _, row := range rows {
		drawText(screen, 10, y, row, hudColor)
		y += 16
	}

	y = ScreenHeight - 10 - 16*len(v.lines)
	for _, line := range v.lines {
		drawText(screen, 10, y, line, logColor)
		y += 16
	}
}

// Layout 设置屏幕布局
func (v *Viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	return ScreenWidth, ScreenHeight
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package server

import "errors"

// LobbyRoom 未加入任何房间的实体所在的默认分组
const LobbyRoom = ""

var ErrRoomNotFound = errors.New("room not found")

// RoomDirectory 房间成员关系；只在世界循环中访问
type RoomDirectory struct {
	members map[string]map[string]struct{}
	closed  map[string]bool
}

// NewRoomDirectory 创建房间目录
func NewRoomDirectory() *RoomDirectory {
	return &RoomDirectory{
		members: make(map[string]map[string]struct{}),
		closed:  make(map[string]bool),
	}
}

// Join 加入房间，房间不存在时创建；已关闭的房间返回 ErrRoomNotFound
func (d *RoomDirectory) Join(roomID, entityID string) error {
	if d.closed[roomID] {
		return ErrRoomNotFound
	}
	room, ok := d.members[roomID]
	if !ok {
		room = make(map[string]struct{})
		d.members[roomID] = room
	}
	room[entityID] = struct{}{}
	return nil
}

// Leave 离开房间，空房间被回收（大厅除外）
func (d *RoomDirectory) Leave(roomID, entityID string) {
	room, ok := d.members[roomID]
	if !ok {
		return
	}
	delete(room, entityID)
	if len(room) == 0 && roomID != LobbyRoom {
		delete(d.members, roomID)
	}
}

// Close 关闭房间，返回被移出的成员
func (d *RoomDirectory) Close(roomID string) []string {
	if roomID == LobbyRoom {
		return nil
	}
	d.closed[roomID] = true
	room := d.members[roomID]
	delete(d.members, roomID)

	evicted := make([]string, 0, len(room))
	for id := range room {
		evicted = append(evicted, id)
	}
	return evicted
}

// Members 房间成员
func (d *RoomDirectory) Members(roomID string) []string {
	room := d.members[roomID]
	out := make([]string, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	return out
}

// Counts 各房间人数
func (d *RoomDirectory) Counts() map[string]int {
	out := make(map[string]int, len(d.members))
	for id, room := range d.members {
		out[id] = len(room)
	}
	return out
}

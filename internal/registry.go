package internal

import (
	"crypto/rand"
	"log/slog"
	"sync"
)

// Registry 房間註冊表，全部房間狀態的唯一來源
//
// 併發設計：
//   - 單一 RWMutex 保護整個 rooms map
//   - 橫跨「檢查 + 修改」的複合操作必須在同一個互斥區內完成，
//     同套件的元件透過 locked 取得互斥區
//   - 互斥區內只做記憶體操作，不做任何阻塞 I/O
type Registry struct {
	rooms  map[string]*Room
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry 建立房間註冊表
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

// Create 建立新房間並回傳房間 ID，ID 碰撞時重新產生
func (reg *Registry) Create(duration int, playerID string) string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	id := reg.newRoomID()
	reg.rooms[id] = newRoom(id, duration, playerID)

	reg.logger.Info("房間已建立",
		"room_id", id,
		"player_id", playerID,
		"duration", duration)

	return id
}

// Get 取得房間快照，回傳的副本與註冊表內部狀態無關
func (reg *Registry) Get(roomID string) (Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return room.snapshot(), true
}

// Mutate 在互斥區內對單一房間執行 fn，房間不存在回傳 false。
// fn 不得保留 *Room 參照到互斥區外。
func (reg *Registry) Mutate(roomID string, fn func(*Room)) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	room, ok := reg.rooms[roomID]
	if !ok {
		return false
	}
	fn(room)
	return true
}

// ForEach 唯讀掃描所有房間，fn 回傳 false 時中止
func (reg *Registry) ForEach(fn func(*Room) bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for _, room := range reg.rooms {
		if !fn(room) {
			return
		}
	}
}

// Remove 移除房間
func (reg *Registry) Remove(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.rooms[roomID]; !ok {
		return
	}
	delete(reg.rooms, roomID)
	reg.logger.Info("房間已移除", "room_id", roomID)
}

// locked 在寫鎖內執行 fn，供同套件元件組合橫跨掃描與修改的複合操作。
// fn 內部直接存取 reg.rooms，不得再呼叫任何會取鎖的方法。
func (reg *Registry) locked(fn func(rooms map[string]*Room)) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	fn(reg.rooms)
}

// Count 目前的房間數
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Stats 統計資訊
func (reg *Registry) Stats() map[string]any {
	statusCount := make(map[Status]int)
	totalRooms := 0
	totalPlayers := 0
	reg.ForEach(func(room *Room) bool {
		totalRooms++
		statusCount[room.Status]++
		totalPlayers += len(room.Slots)
		return true
	})

	return map[string]any{
		"total_rooms":   totalRooms,
		"total_players": totalPlayers,
		"by_status":     statusCount,
	}
}

// roomIDChars 房間 ID 字母表：大小寫英文字母與數字
const roomIDChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// roomIDLength 房間 ID 長度
const roomIDLength = 6

// newRoomID 產生目前未被使用的 6 碼房間 ID，呼叫端必須持有寫鎖
func (reg *Registry) newRoomID() string {
	for {
		id := randomRoomID()
		if _, exists := reg.rooms[id]; !exists {
			return id
		}
	}
}

// randomRoomID 產生隨機房間 ID。
// 62 不整除 256，取模前先丟棄 248 以上的位元組，
// 每個字符的出現機率才會相等。
func randomRoomID() string {
	const limit = byte(256 - 256%len(roomIDChars))

	id := make([]byte, 0, roomIDLength)
	buf := make([]byte, roomIDLength*2)
	for len(id) < roomIDLength {
		rand.Read(buf)
		for _, b := range buf {
			if b >= limit {
				continue
			}
			id = append(id, roomIDChars[int(b)%len(roomIDChars)])
			if len(id) == roomIDLength {
				break
			}
		}
	}
	return string(id)
}

// snapshot 複製房間狀態，slot 以值複製
func (r *Room) snapshot() Room {
	out := *r
	out.Slots = make([]*PlayerSlot, len(r.Slots))
	for i, s := range r.Slots {
		copied := *s
		out.Slots[i] = &copied
	}
	return out
}

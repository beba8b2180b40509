package internal

import "fmt"

// Status 房間狀態
//
// 有限狀態機設計：
//
//	waiting → setting → playing ⇄ rematch
//	任何非 ended 狀態 → disconnected（雙人房掉線剩一人）
//	任何狀態 → ended（明確的結束訊號）
//
// 狀態轉換規則：
//   - waiting → setting：第二位玩家加入
//   - setting → playing：兩位玩家都送出 ready
//   - playing → rematch：任一方提出再戰
//   - rematch → playing：另一方同意再戰
type Status string

const (
	StatusWaiting      Status = "waiting"      // 等待配對
	StatusSetting      Status = "setting"      // 雙方到齊，建立 P2P 連線中
	StatusPlaying      Status = "playing"      // 比賽進行中
	StatusRematch      Status = "rematch"      // 一方已提出再戰
	StatusDisconnected Status = "disconnected" // 對手掉線，僅剩一人
	StatusEnded        Status = "ended"        // 比賽結束，等待回收
)

// SessionActive 回報該狀態是否代表一場進行中的對戰。
// 玩家只要佔用一間處於進行中狀態的房間，就不能再配對新的對戰；
// ended、rematch、disconnected 視為可重新配對。
func (s Status) SessionActive() bool {
	switch s {
	case StatusWaiting, StatusSetting, StatusPlaying:
		return true
	}
	return false
}

// validTransitions 合法的狀態轉換表
var validTransitions = map[Status][]Status{
	StatusWaiting:      {StatusSetting, StatusEnded},
	StatusSetting:      {StatusPlaying, StatusDisconnected, StatusEnded},
	StatusPlaying:      {StatusRematch, StatusDisconnected, StatusEnded},
	StatusRematch:      {StatusPlaying, StatusDisconnected, StatusEnded},
	StatusDisconnected: {StatusEnded},
}

// canTransition 檢查狀態轉換是否合法
func canTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// 連線建立後的訊號角色：先加入者發 offer，後加入者回 answer。
const (
	RoleOfferer  = "offerer"
	RoleAnswerer = "answerer"
)

// maxSlots 一間房間最多兩位玩家
const maxSlots = 2

// PlayerSlot 玩家在房間內的成員資料
type PlayerSlot struct {
	PlayerID string `json:"player_id"`
	// Handle 即時連線綁定後的連線代號，綁定前為空字串。
	// 一個代號只會對應一條活連線；移除 slot 是釋放它的唯一方式。
	Handle  string `json:"-"`
	Ready   bool   `json:"ready"`
	Rematch bool   `json:"-"`
}

// Room 配對／對戰單位，最多容納兩位玩家
//
// Room 本身不帶鎖：所有讀寫都必須透過 Registry 的互斥區進行，
// 任何元件都不得在鎖外保留 Room 參照。
type Room struct {
	ID       string `json:"room_id"`
	Duration int    `json:"duration"` // 第一位玩家選定的對戰秒數，僅做相等比較
	Status   Status `json:"status"`
	// Slots 依加入順序排列
	Slots []*PlayerSlot `json:"slots"`
}

// newRoom 建立只有一位玩家的新房間
func newRoom(id string, duration int, playerID string) *Room {
	return &Room{
		ID:       id,
		Duration: duration,
		Status:   StatusWaiting,
		Slots:    []*PlayerSlot{{PlayerID: playerID}},
	}
}

// slot 依玩家 ID 取得 slot，不存在回傳 nil
func (r *Room) slot(playerID string) *PlayerSlot {
	for _, s := range r.Slots {
		if s.PlayerID == playerID {
			return s
		}
	}
	return nil
}

// slotByHandle 依連線代號取得 slot，不存在回傳 nil
func (r *Room) slotByHandle(handle string) *PlayerSlot {
	if handle == "" {
		return nil
	}
	for _, s := range r.Slots {
		if s.Handle == handle {
			return s
		}
	}
	return nil
}

// addPlayer 加入第二位玩家，waiting → setting
func (r *Room) addPlayer(playerID string) error {
	if r.Status != StatusWaiting {
		return fmt.Errorf("房間狀態不允許加入: %s", r.Status)
	}
	if len(r.Slots) >= maxSlots {
		return fmt.Errorf("房間已滿")
	}
	if r.slot(playerID) != nil {
		return fmt.Errorf("玩家已在房間內")
	}
	r.Slots = append(r.Slots, &PlayerSlot{PlayerID: playerID})
	r.Status = StatusSetting
	return nil
}

// bind 把連線代號綁到玩家 slot 上。
// 同一玩家重複綁定時以新連線代號覆蓋舊的。
func (r *Room) bind(playerID, handle string) bool {
	s := r.slot(playerID)
	if s == nil {
		return false
	}
	s.Handle = handle
	return true
}

// rebind 綁定連線；slot 不存在但尚有空位時重建 slot，
// 讓掉線的玩家能在寬限期內重新接上同一間房。
// waiting 房加入第二位玩家只能走 Matchmaker，這裡不會替
// 未配對的玩家在等待中的房間憑空生出 slot。
func (r *Room) rebind(playerID, handle string) bool {
	if r.bind(playerID, handle) {
		return true
	}
	if len(r.Slots) >= maxSlots {
		return false
	}
	if r.Status == StatusWaiting && len(r.Slots) > 0 {
		return false
	}
	r.Slots = append(r.Slots, &PlayerSlot{PlayerID: playerID, Handle: handle})
	return true
}

// bothBound 兩個 slot 都已綁定連線
func (r *Room) bothBound() bool {
	if len(r.Slots) < maxSlots {
		return false
	}
	for _, s := range r.Slots {
		if s.Handle == "" {
			return false
		}
	}
	return true
}

// roles 依加入順序決定訊號角色：第一位是 offerer，第二位是 answerer。
// 分派只看加入順序，和綁定或通知順序無關。
func (r *Room) roles() (offerer, answerer *PlayerSlot) {
	return r.Slots[0], r.Slots[1]
}

// setReady 記錄玩家的應用層就緒訊號，回報本次是否跨越屏障
// （setting → playing 確實發生）。這是獨立於連線綁定的同步屏障：
// 客戶端可能先綁定連線、稍後才完成媒體初始化。
// 開賽後重複送 ready 不會再次跨越屏障。
func (r *Room) setReady(playerID string) (started bool, err error) {
	s := r.slot(playerID)
	if s == nil {
		return false, fmt.Errorf("玩家不在房間內")
	}
	s.Ready = true
	if len(r.Slots) < maxSlots {
		return false, nil
	}
	for _, slot := range r.Slots {
		if !slot.Ready {
			return false, nil
		}
	}
	if r.Status != StatusSetting {
		return false, nil
	}
	r.Status = StatusPlaying
	return true, nil
}

// end 明確的結束訊號，任何未結束的狀態都會進入 ended
func (r *Room) end() bool {
	if !canTransition(r.Status, StatusEnded) {
		return false
	}
	r.Status = StatusEnded
	return true
}

// markDisconnected 雙人房掉線剩一人時進入 disconnected
func (r *Room) markDisconnected() bool {
	if !canTransition(r.Status, StatusDisconnected) {
		return false
	}
	r.Status = StatusDisconnected
	return true
}

// voteRematch 記錄再戰請求。
// 第一票把房間帶進 rematch（proposed），第二票核准並回到 playing（approved）。
// 同一位玩家重複投票不產生任何效果。
func (r *Room) voteRematch(playerID string) (proposed, approved bool, err error) {
	s := r.slot(playerID)
	if s == nil {
		return false, false, fmt.Errorf("玩家不在房間內")
	}
	switch r.Status {
	case StatusPlaying:
		s.Rematch = true
		r.Status = StatusRematch
		return true, false, nil
	case StatusRematch:
		if s.Rematch {
			// 同一位玩家重複按再戰，繼續等對方
			return false, false, nil
		}
		for _, slot := range r.Slots {
			slot.Rematch = false
		}
		r.Status = StatusPlaying
		return false, true, nil
	default:
		return false, false, fmt.Errorf("房間狀態不允許再戰: %s", r.Status)
	}
}

// removeByHandle 依連線代號移除 slot，回傳被移除的 slot 與剩餘人數。
// 找不到時回傳 nil。
func (r *Room) removeByHandle(handle string) (removed *PlayerSlot, remaining int) {
	for i, s := range r.Slots {
		if s.Handle != "" && s.Handle == handle {
			r.Slots = append(r.Slots[:i], r.Slots[i+1:]...)
			return s, len(r.Slots)
		}
	}
	return nil, len(r.Slots)
}

// handles 回傳所有已綁定的連線代號，exclude 非空時排除該代號
func (r *Room) handles(exclude string) []string {
	out := make([]string, 0, len(r.Slots))
	for _, s := range r.Slots {
		if s.Handle == "" || s.Handle == exclude {
			continue
		}
		out = append(out, s.Handle)
	}
	return out
}

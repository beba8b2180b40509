package internal

import (
	"errors"
	"log/slog"
	"math/rand/v2"
)

// 錯誤分類：
//   - ErrPlayerIDRequired：缺少必填欄位，對應 400
//   - ErrAlreadyInSession：玩家已佔用進行中的房間，對應 403
//   - ErrRoomNotFound：查無房間，對應 404
var (
	ErrPlayerIDRequired = errors.New("玩家 ID 為必填")
	ErrAlreadyInSession = errors.New("玩家已在進行中的對戰")
	ErrRoomNotFound     = errors.New("房間不存在")
)

// Matchmaker 配對器：替玩家找到可加入的房間，找不到就開新房
type Matchmaker struct {
	registry *Registry
	logger   *slog.Logger
}

// NewMatchmaker 建立配對器
func NewMatchmaker(registry *Registry, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		registry: registry,
		logger:   logger,
	}
}

// MatchResult 配對結果
type MatchResult struct {
	RoomID   string
	Status   Status
	Duration int
}

// FindOrJoin 替玩家配對：
//   - 玩家已佔用進行中的房間時回傳 ErrAlreadyInSession
//   - 有秒數相同、僅一人、等待中的房間時隨機挑一間加入（無公平性保證）
//   - 否則開一間新房
//
// 整個「查重 + 掃描 + 加入」序列在同一個互斥區內完成，
// 兩個玩家同時加入同一間空位房不可能都成功再塞進第三人。
func (m *Matchmaker) FindOrJoin(playerID string, duration int) (MatchResult, error) {
	if playerID == "" {
		return MatchResult{}, ErrPlayerIDRequired
	}

	var (
		result MatchResult
		err    error
	)
	m.registry.locked(func(rooms map[string]*Room) {
		// 一位玩家同時間只能佔用一間進行中的房間
		for _, room := range rooms {
			if room.slot(playerID) != nil && room.Status.SessionActive() {
				err = ErrAlreadyInSession
				return
			}
		}

		// 收集秒數相同的等待中房間
		var open []*Room
		for _, room := range rooms {
			if room.Status == StatusWaiting && len(room.Slots) == 1 && room.Duration == duration {
				open = append(open, room)
			}
		}

		if len(open) > 0 {
			room := open[rand.IntN(len(open))]
			if joinErr := room.addPlayer(playerID); joinErr != nil {
				err = joinErr
				return
			}
			result = MatchResult{RoomID: room.ID, Status: room.Status, Duration: room.Duration}
			return
		}

		// 沒有可加入的房間，開新房
		id := m.registry.newRoomID()
		rooms[id] = newRoom(id, duration, playerID)
		result = MatchResult{RoomID: id, Status: StatusWaiting, Duration: duration}
	})
	if err != nil {
		return MatchResult{}, err
	}

	m.logger.Info("配對完成",
		"player_id", playerID,
		"room_id", result.RoomID,
		"status", result.Status,
		"duration", duration)

	return result, nil
}

// Exists 唯讀查詢房間是否存在
func (m *Matchmaker) Exists(roomID string) (MatchResult, error) {
	room, ok := m.registry.Get(roomID)
	if !ok {
		return MatchResult{}, ErrRoomNotFound
	}
	return MatchResult{RoomID: room.ID, Status: room.Status, Duration: room.Duration}, nil
}

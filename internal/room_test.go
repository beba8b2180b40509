package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStatus_SessionActive 測試進行中狀態的判定
func TestStatus_SessionActive(t *testing.T) {
	tests := []struct {
		status Status
		active bool
	}{
		{StatusWaiting, true},
		{StatusSetting, true},
		{StatusPlaying, true},
		{StatusRematch, false},
		{StatusDisconnected, false},
		{StatusEnded, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.SessionActive())
		})
	}
}

// TestCanTransition 測試狀態轉換表
func TestCanTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  Status
		to    Status
		legal bool
	}{
		{"waiting to setting", StatusWaiting, StatusSetting, true},
		{"setting to playing", StatusSetting, StatusPlaying, true},
		{"playing to rematch", StatusPlaying, StatusRematch, true},
		{"rematch to playing", StatusRematch, StatusPlaying, true},
		{"playing to ended", StatusPlaying, StatusEnded, true},
		{"setting to disconnected", StatusSetting, StatusDisconnected, true},
		{"waiting to playing", StatusWaiting, StatusPlaying, false},
		{"waiting to disconnected", StatusWaiting, StatusDisconnected, false},
		{"ended to playing", StatusEnded, StatusPlaying, false},
		{"ended to ended", StatusEnded, StatusEnded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.legal, canTransition(tt.from, tt.to))
		})
	}
}

// TestRoom_AddPlayer 測試第二位玩家加入
func TestRoom_AddPlayer(t *testing.T) {
	tests := []struct {
		name          string
		setupRoom     func() *Room
		playerID      string
		expectedError string
		validate      func(t *testing.T, room *Room, err error)
	}{
		{
			name: "second player joins waiting room",
			setupRoom: func() *Room {
				return newRoom("AbC123", 60, "player_a")
			},
			playerID: "player_b",
			validate: func(t *testing.T, room *Room, err error) {
				require.NoError(t, err)
				assert.Len(t, room.Slots, 2)
				assert.Equal(t, StatusSetting, room.Status)
				// 加入順序保持不變
				assert.Equal(t, "player_a", room.Slots[0].PlayerID)
				assert.Equal(t, "player_b", room.Slots[1].PlayerID)
			},
		},
		{
			name: "room not waiting",
			setupRoom: func() *Room {
				room := newRoom("AbC123", 60, "player_a")
				require.NoError(t, room.addPlayer("player_b"))
				return room
			},
			playerID:      "player_c",
			expectedError: "房間狀態不允許加入",
			validate: func(t *testing.T, room *Room, err error) {
				require.Error(t, err)
				assert.Len(t, room.Slots, 2)
			},
		},
		{
			name: "player already in room",
			setupRoom: func() *Room {
				return newRoom("AbC123", 60, "player_a")
			},
			playerID:      "player_a",
			expectedError: "玩家已在房間內",
			validate: func(t *testing.T, room *Room, err error) {
				require.Error(t, err)
				assert.Len(t, room.Slots, 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := tt.setupRoom()
			err := room.addPlayer(tt.playerID)
			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			}
			tt.validate(t, room, err)
		})
	}
}

// TestRoom_BindAndRoles 測試連線綁定與角色分派
func TestRoom_BindAndRoles(t *testing.T) {
	t.Run("roles follow join order regardless of bind order", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		require.NoError(t, room.addPlayer("player_b"))

		// 後加入者先綁定連線
		assert.True(t, room.bind("player_b", "conn_b"))
		assert.False(t, room.bothBound())
		assert.True(t, room.bind("player_a", "conn_a"))
		assert.True(t, room.bothBound())

		offerer, answerer := room.roles()
		assert.Equal(t, "player_a", offerer.PlayerID)
		assert.Equal(t, "player_b", answerer.PlayerID)
	})

	t.Run("rebind replaces the recorded handle", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		require.True(t, room.bind("player_a", "conn_1"))
		require.True(t, room.bind("player_a", "conn_2"))
		assert.Nil(t, room.slotByHandle("conn_1"))
		assert.NotNil(t, room.slotByHandle("conn_2"))
	})

	t.Run("bind unknown player fails", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		assert.False(t, room.bind("player_x", "conn_x"))
	})

	t.Run("rebind never appends a second slot to a waiting room", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")

		// 未配對的玩家不能靠綁定連線擠進等待中的房間
		assert.False(t, room.rebind("player_b", "conn_b"))
		assert.Len(t, room.Slots, 1)
		assert.Equal(t, StatusWaiting, room.Status)
	})

	t.Run("rebind restores the only slot of an emptied waiting room", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		room.bind("player_a", "conn_a")
		_, remaining := room.removeByHandle("conn_a")
		require.Equal(t, 0, remaining)

		assert.True(t, room.rebind("player_a", "conn_a2"))
		assert.Len(t, room.Slots, 1)
	})

	t.Run("rebind restores a dropped slot when capacity allows", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		require.NoError(t, room.addPlayer("player_b"))
		room.bind("player_a", "conn_a")
		room.bind("player_b", "conn_b")

		removed, remaining := room.removeByHandle("conn_b")
		require.NotNil(t, removed)
		require.Equal(t, 1, remaining)

		assert.True(t, room.rebind("player_b", "conn_b2"))
		assert.Len(t, room.Slots, 2)
		assert.NotNil(t, room.slotByHandle("conn_b2"))
	})
}

// TestRoom_SetReady 測試就緒屏障
func TestRoom_SetReady(t *testing.T) {
	t.Run("start only after every player is ready", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		require.NoError(t, room.addPlayer("player_b"))
		require.Equal(t, StatusSetting, room.Status)

		all, err := room.setReady("player_a")
		require.NoError(t, err)
		assert.False(t, all)
		assert.Equal(t, StatusSetting, room.Status)

		all, err = room.setReady("player_b")
		require.NoError(t, err)
		assert.True(t, all)
		assert.Equal(t, StatusPlaying, room.Status)
	})

	t.Run("duplicate ready after playing does not cross the barrier again", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		require.NoError(t, room.addPlayer("player_b"))
		_, err := room.setReady("player_a")
		require.NoError(t, err)
		started, err := room.setReady("player_b")
		require.NoError(t, err)
		require.True(t, started)

		started, err = room.setReady("player_a")
		require.NoError(t, err)
		assert.False(t, started)
		assert.Equal(t, StatusPlaying, room.Status)
	})

	t.Run("single player never reaches the barrier", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		all, err := room.setReady("player_a")
		require.NoError(t, err)
		assert.False(t, all)
		assert.Equal(t, StatusWaiting, room.Status)
	})

	t.Run("unknown player is an error", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		_, err := room.setReady("player_x")
		require.Error(t, err)
	})
}

// TestRoom_VoteRematch 測試再戰投票
func TestRoom_VoteRematch(t *testing.T) {
	setupPlaying := func(t *testing.T) *Room {
		room := newRoom("AbC123", 60, "player_a")
		require.NoError(t, room.addPlayer("player_b"))
		_, err := room.setReady("player_a")
		require.NoError(t, err)
		_, err = room.setReady("player_b")
		require.NoError(t, err)
		require.Equal(t, StatusPlaying, room.Status)
		return room
	}

	t.Run("first vote proposes, second approves", func(t *testing.T) {
		room := setupPlaying(t)

		proposed, approved, err := room.voteRematch("player_a")
		require.NoError(t, err)
		assert.True(t, proposed)
		assert.False(t, approved)
		assert.Equal(t, StatusRematch, room.Status)

		proposed, approved, err = room.voteRematch("player_b")
		require.NoError(t, err)
		assert.False(t, proposed)
		assert.True(t, approved)
		assert.Equal(t, StatusPlaying, room.Status)
	})

	t.Run("repeat vote from the same player is a no-op", func(t *testing.T) {
		room := setupPlaying(t)

		_, _, err := room.voteRematch("player_a")
		require.NoError(t, err)

		proposed, approved, err := room.voteRematch("player_a")
		require.NoError(t, err)
		assert.False(t, proposed)
		assert.False(t, approved)
		assert.Equal(t, StatusRematch, room.Status)
	})

	t.Run("vote resets for the next cycle after approval", func(t *testing.T) {
		room := setupPlaying(t)

		_, _, err := room.voteRematch("player_a")
		require.NoError(t, err)
		_, _, err = room.voteRematch("player_b")
		require.NoError(t, err)

		// 第二輪再戰從頭開始
		proposed, approved, err := room.voteRematch("player_b")
		require.NoError(t, err)
		assert.True(t, proposed)
		assert.False(t, approved)
		assert.Equal(t, StatusRematch, room.Status)
	})

	t.Run("vote outside playing or rematch is an error", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		require.NoError(t, room.addPlayer("player_b"))
		_, _, err := room.voteRematch("player_a")
		require.Error(t, err)
	})
}

// TestRoom_RemoveByHandle 測試依連線代號移除 slot
func TestRoom_RemoveByHandle(t *testing.T) {
	t.Run("remove one of two leaves the other", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		require.NoError(t, room.addPlayer("player_b"))
		room.bind("player_a", "conn_a")
		room.bind("player_b", "conn_b")

		removed, remaining := room.removeByHandle("conn_a")
		require.NotNil(t, removed)
		assert.Equal(t, "player_a", removed.PlayerID)
		assert.Equal(t, 1, remaining)
		assert.Equal(t, "player_b", room.Slots[0].PlayerID)
	})

	t.Run("unknown handle removes nothing", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		room.bind("player_a", "conn_a")

		removed, remaining := room.removeByHandle("conn_x")
		assert.Nil(t, removed)
		assert.Equal(t, 1, remaining)
	})

	t.Run("unbound slot never matches by handle", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		removed, _ := room.removeByHandle("")
		assert.Nil(t, removed)
	})
}

// TestRoom_EndAndDisconnect 測試結束與掉線轉換
func TestRoom_EndAndDisconnect(t *testing.T) {
	t.Run("end from any live status", func(t *testing.T) {
		for _, status := range []Status{StatusWaiting, StatusSetting, StatusPlaying, StatusRematch, StatusDisconnected} {
			room := newRoom("AbC123", 60, "player_a")
			room.Status = status
			assert.True(t, room.end(), "status=%s", status)
			assert.Equal(t, StatusEnded, room.Status)
		}
	})

	t.Run("end is terminal", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		room.Status = StatusEnded
		assert.False(t, room.end())
	})

	t.Run("disconnected unreachable from waiting", func(t *testing.T) {
		room := newRoom("AbC123", 60, "player_a")
		assert.False(t, room.markDisconnected())
		assert.Equal(t, StatusWaiting, room.Status)
	})
}

// TestRoom_Handles 測試連線代號集合
func TestRoom_Handles(t *testing.T) {
	room := newRoom("AbC123", 60, "player_a")
	require.NoError(t, room.addPlayer("player_b"))
	room.bind("player_a", "conn_a")

	assert.Equal(t, []string{"conn_a"}, room.handles(""))
	assert.Empty(t, room.handles("conn_a"))

	room.bind("player_b", "conn_b")
	assert.ElementsMatch(t, []string{"conn_a", "conn_b"}, room.handles(""))
	assert.Equal(t, []string{"conn_b"}, room.handles("conn_a"))
}

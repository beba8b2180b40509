package internal

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// 寫入單一訊息的期限
	writeWait = 10 * time.Second

	// 收到 Pong 後延長的讀取期限
	pongWait = 60 * time.Second

	// Ping 間隔，必須小於 pongWait
	pingPeriod = 54 * time.Second

	// 單一訊息大小上限，64 KB 足以容納 SDP
	maxMessageSize = 64 * 1024

	// 每條連線的送出緩衝
	sendBufferSize = 256

	// 每條連線的事件速率上限（每秒事件數／突發量）
	eventRateLimit = 20
	eventRateBurst = 40
)

// 即時通道事件名稱
const (
	evJoin            = "join"
	evSignal          = "signal"
	evPushUp          = "push_up"
	evReady           = "ready"
	evStart           = "start"
	evRematch         = "rematch"
	evRematchRequest  = "rematch_request"
	evRematchApproved = "rematch_approved"
	evGameEnded       = "game_ended"
	evLeaveRoom       = "leave_room"
	evOpponentLeft    = "opponent_left"
)

// wsEvent 即時通道的訊框格式。
// Data 對伺服器而言是不透明的，轉送類事件原封不動送出。
type wsEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// roomRef 事件內指涉房間與玩家的共通欄位
type roomRef struct {
	Room   string `json:"room"`
	UserID string `json:"userId"`
}

// HubConfig Hub 的執行參數
type HubConfig struct {
	// AllowedOrigins 允許的來源清單，空清單代表不限制（開發環境）
	AllowedOrigins []string
	// GracePeriod 空房間延遲刪除的寬限期，0 代表立即刪除
	GracePeriod time.Duration
}

// Hub 即時連線中心
//
// 負責三件事：
//   - 綁定：join 事件把連線掛到房間 slot 上，雙方到齊時分派訊號角色
//   - 轉送：signal／push_up 原封不動送給房內除了送出者以外的連線
//   - 回收：連線中斷時移除 slot，通知留下的玩家或刪除空房
//
// 所有房間狀態修改都走 Registry 的互斥區；要送出的通知在互斥區內
// 收集、互斥區外送出，鎖內不做任何 I/O。
type Hub struct {
	registry *Registry
	logger   *slog.Logger
	cfg      HubConfig
	upgrader websocket.Upgrader

	conns map[string]*Connection // 連線代號 -> 連線
	mu    sync.RWMutex
}

// Connection 單一 websocket 連線
type Connection struct {
	// ID 連線代號，綁定到玩家 slot 的不透明識別子
	ID string

	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// NewHub 建立即時連線中心
func NewHub(registry *Registry, logger *slog.Logger, cfg HubConfig) *Hub {
	h := &Hub{
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		conns:    make(map[string]*Connection),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), cfg.AllowedOrigins)
		},
	}
	return h
}

// originAllowed 清單為空時不限制來源
func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if origin == a {
			return true
		}
	}
	return false
}

// ServeWS 處理 websocket 升級，為每條連線配發代號並啟動讀寫迴圈
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	c := &Connection{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	h.register(c)

	h.logger.Info("連線建立", "conn_id", c.ID, "remote", conn.RemoteAddr())

	go c.writePump()
	go c.readPump()
}

// register 登錄連線
func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID] = c
}

// unregister 註銷連線並關閉送出通道
func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.ID]; ok {
		delete(h.conns, c.ID)
		c.closeOnce.Do(func() {
			close(c.send)
		})
	}
}

// Stop 關閉所有連線
func (h *Hub) Stop() {
	h.mu.Lock()
	for _, c := range h.conns {
		c.closeOnce.Do(func() {
			close(c.send)
		})
		c.conn.Close()
	}
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()

	h.logger.Info("即時連線中心已停止")
}

// ConnectionCount 目前的活連線數
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// sendEvent 對單一連線代號送出事件，緩衝滿時丟棄
func (h *Hub) sendEvent(handle, event string, data json.RawMessage) {
	raw, err := json.Marshal(wsEvent{Event: event, Data: data})
	if err != nil {
		h.logger.Error("序列化事件失敗", "event", event, "error", err)
		return
	}
	h.sendRaw(handle, raw)
}

// sendRaw 對單一連線代號送出原始訊框，盡力而為、不重試。
// 讀鎖必須涵蓋整個非阻塞送出：unregister 與 Stop 在寫鎖內
// 關閉 send 通道，鎖外送出會撞上已關閉的通道。
func (h *Hub) sendRaw(handle string, raw []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[handle]
	if !ok {
		return
	}
	select {
	case c.send <- raw:
	default:
		h.logger.Warn("連線送出緩衝已滿，丟棄訊息", "conn_id", handle)
	}
}

// dispatch 依事件名稱分派處理
func (h *Hub) dispatch(c *Connection, evt wsEvent, raw []byte) {
	var ref roomRef
	if len(evt.Data) > 0 {
		if err := json.Unmarshal(evt.Data, &ref); err != nil {
			h.logger.Warn("事件內容無法解析", "event", evt.Event, "conn_id", c.ID)
			return
		}
	}

	switch evt.Event {
	case evJoin:
		h.handleJoin(c, ref)
	case evSignal, evPushUp:
		h.relay(c, ref.Room, raw)
	case evReady:
		h.handleReady(c, ref)
	case evRematch:
		h.handleRematch(c, ref.Room, evt.Data)
	case evGameEnded:
		h.handleGameEnded(c, ref.Room)
	case evLeaveRoom:
		h.reconcile(c.ID)
	default:
		h.logger.Debug("未知的事件", "event", evt.Event, "conn_id", c.ID)
	}
}

// handleJoin 把連線綁到房間 slot。
// 兩個 slot 都綁定後，依加入順序分派 offerer／answerer 並各自單播通知；
// 角色只由加入順序決定，與通知送達順序無關。
func (h *Hub) handleJoin(c *Connection, ref roomRef) {
	var offererHandle, answererHandle string

	ok := h.registry.Mutate(ref.Room, func(r *Room) {
		if !r.rebind(ref.UserID, c.ID) {
			h.logger.Warn("連線無法綁定房間 slot，忽略 join",
				"room_id", ref.Room, "player_id", ref.UserID, "room_status", r.Status)
			return
		}
		if r.bothBound() {
			offerer, answerer := r.roles()
			offererHandle = offerer.Handle
			answererHandle = answerer.Handle
		}
	})
	if !ok {
		// 房間可能已被回收，視為良性競態
		h.logger.Warn("加入不存在的房間", "room_id", ref.Room, "conn_id", c.ID)
		return
	}

	if offererHandle != "" && answererHandle != "" {
		h.sendEvent(offererHandle, evReady, json.RawMessage(`"`+RoleOfferer+`"`))
		h.sendEvent(answererHandle, evReady, json.RawMessage(`"`+RoleAnswerer+`"`))
		h.logger.Info("雙方連線到齊，分派訊號角色", "room_id", ref.Room)
	}
}

// relay 把原始訊框原封不動轉送給房內其他連線。
// 不檢查內容、不重試、不等回覆。
func (h *Hub) relay(c *Connection, roomID string, raw []byte) {
	room, ok := h.registry.Get(roomID)
	if !ok {
		h.logger.Warn("轉送目標房間不存在", "room_id", roomID, "conn_id", c.ID)
		return
	}
	for _, handle := range room.handles(c.ID) {
		h.sendRaw(handle, raw)
	}
}

// handleReady 記錄應用層就緒訊號，全員就緒時向全房廣播 start
func (h *Hub) handleReady(c *Connection, ref roomRef) {
	var (
		start   bool
		targets []string
	)
	ok := h.registry.Mutate(ref.Room, func(r *Room) {
		started, err := r.setReady(ref.UserID)
		if err != nil {
			h.logger.Warn("忽略 ready 訊號",
				"room_id", ref.Room, "player_id", ref.UserID, "error", err)
			return
		}
		if started {
			start = true
			targets = r.handles("")
		}
	})
	if !ok {
		h.logger.Warn("ready 指向不存在的房間", "room_id", ref.Room)
		return
	}

	if start {
		for _, handle := range targets {
			h.sendEvent(handle, evStart, nil)
		}
		h.logger.Info("全員就緒，比賽開始", "room_id", ref.Room)
	}
}

// handleRematch 處理再戰投票。
// 第一票只轉送提案給對方，第二票向全房廣播核准。
func (h *Hub) handleRematch(c *Connection, roomID string, data json.RawMessage) {
	var (
		proposed bool
		approved bool
		peers    []string
		all      []string
	)
	ok := h.registry.Mutate(roomID, func(r *Room) {
		s := r.slotByHandle(c.ID)
		if s == nil {
			h.logger.Warn("連線未綁定房間，忽略 rematch", "room_id", roomID, "conn_id", c.ID)
			return
		}
		var err error
		proposed, approved, err = r.voteRematch(s.PlayerID)
		if err != nil {
			h.logger.Warn("忽略 rematch 訊號", "room_id", roomID, "error", err)
			return
		}
		peers = r.handles(c.ID)
		all = r.handles("")
	})
	if !ok {
		h.logger.Warn("rematch 指向不存在的房間", "room_id", roomID)
		return
	}

	switch {
	case approved:
		for _, handle := range all {
			h.sendEvent(handle, evRematchApproved, nil)
		}
		h.logger.Info("再戰成立", "room_id", roomID)
	case proposed:
		for _, handle := range peers {
			h.sendEvent(handle, evRematchRequest, data)
		}
	}
}

// handleGameEnded 明確的結束訊號，重複送達只記 debug
func (h *Hub) handleGameEnded(c *Connection, roomID string) {
	var ended bool
	ok := h.registry.Mutate(roomID, func(r *Room) {
		ended = r.end()
	})
	if !ok {
		h.logger.Warn("game_ended 指向不存在的房間", "room_id", roomID)
		return
	}
	if ended {
		h.logger.Info("比賽結束", "room_id", roomID)
	} else {
		h.logger.Debug("房間已結束", "room_id", roomID)
	}
}

// reconcile 依連線代號回收房間狀態。
// 連線中斷或明確的 leave_room 都走這條路徑：
//   - 剩一人：房間進入 disconnected，通知留下的玩家
//   - 剩零人：立即刪除，或在寬限期後確認仍為空房再刪除
//
// 以線性掃描找出連線所屬的房間，在目前的規模下成本可接受。
func (h *Hub) reconcile(handle string) {
	var (
		roomID  string
		notify  []string
		delayed bool
	)
	h.registry.locked(func(rooms map[string]*Room) {
		for id, r := range rooms {
			removed, remaining := r.removeByHandle(handle)
			if removed == nil {
				continue
			}
			roomID = id
			switch remaining {
			case 0:
				if h.cfg.GracePeriod > 0 {
					delayed = true
				} else {
					delete(rooms, id)
				}
			default:
				r.markDisconnected()
				notify = r.handles("")
			}
			return
		}
	})
	if roomID == "" {
		// 連線從未綁定任何房間
		return
	}

	for _, target := range notify {
		h.sendEvent(target, evOpponentLeft, nil)
	}
	if delayed {
		// 寬限期內若有人重連進來，房間就不會被刪除
		time.AfterFunc(h.cfg.GracePeriod, func() {
			h.removeIfEmpty(roomID)
		})
	}

	if len(notify) > 0 {
		h.logger.Info("玩家離開，房間進入 disconnected", "room_id", roomID)
	} else {
		h.logger.Info("房間清空", "room_id", roomID, "delayed", delayed)
	}
}

// removeIfEmpty 寬限期到期後，仍為空房才刪除
func (h *Hub) removeIfEmpty(roomID string) {
	h.registry.locked(func(rooms map[string]*Room) {
		r, ok := rooms[roomID]
		if !ok || len(r.Slots) > 0 {
			return
		}
		delete(rooms, roomID)
		h.logger.Info("寬限期屆滿，房間已移除", "room_id", roomID)
	})
}

// readPump 讀取並分派客戶端事件
//
// 每條連線一個讀取 goroutine；讀取期限配合 Pong 重置（54s Ping、
// 60s 期限），速率限制擋住失控的客戶端。
func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.hub.reconcile(c.ID)
		c.conn.Close()
		c.hub.logger.Info("連線中斷", "conn_id", c.ID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(eventRateLimit, eventRateBurst)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket 讀取錯誤", "error", err, "conn_id", c.ID)
			}
			return
		}
		if !limiter.Allow() {
			c.hub.logger.Warn("連線事件速率超限，關閉連線", "conn_id", c.ID)
			return
		}

		var evt wsEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.hub.logger.Warn("訊框無法解析", "conn_id", c.ID, "error", err)
			continue
		}
		c.hub.dispatch(c, evt, raw)
	}
}

// writePump 把送出緩衝的訊息寫進連線，並定期送 Ping
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

			// 順手送完緩衝內累積的訊息
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

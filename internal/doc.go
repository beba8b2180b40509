// Package internal 實現了一個 1v1 即時對戰的配對與訊號服務器。
//
// 系統把兩位遠端玩家配對進同一間房間，代轉建立 P2P 連線所需的
// 握手訊息（offer／answer／ICE candidate，一律視為不透明內容），
// 並在大量併發連線下追蹤每間房間的生命週期。
//
// # 架構設計
//
// 系統採用分層架構：
//   - Registry 層：房間狀態的唯一來源，單一鎖保護
//   - Matchmaker 層：找房或開房，保證一人一房
//   - Hub 層：即時連線綁定、訊號轉送、掉線回收
//   - Handler 層：HTTP JSON API 與中間件
//
// # 房間生命週期
//
//	waiting → setting → playing ⇄ rematch
//	雙人房掉線剩一人 → disconnected
//	明確結束訊號 → ended
//	最後一人離開 → 房間刪除（可設定寬限期）
//
// # 併發安全設計
//
// Registry 的單一 RWMutex 是唯一的房間狀態鎖。橫跨「檢查 + 修改」
// 的序列（配對、再戰投票、掉線回收）整段都在互斥區內執行，任何
// 併發呼叫者都不會觀察到半套用的更新；互斥區內不做任何 I/O，
// 要送出的通知在鎖內收集、鎖外透過緩衝通道送出。
//
// # 通訊協定
//
// 請求／回應走 JSON HTTP（/api/find-room、/api/check-room），
// 即時事件走 WebSocket（/ws），訊框格式 {event, data}。
// 訊號內容由客戶端自行定義，服務器只轉送、不檢查。
package internal

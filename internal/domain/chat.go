package domain

// ChatMessage 是房间聊天记录中的一条消息。
// ID 格式为 "{epochMillis}-{randomSuffix}"，Timestamp 与 ID 中嵌入的毫秒值一致，
// 因此同一房间内的消息按 Timestamp 非降序可重放。
type ChatMessage struct {
	ID         string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

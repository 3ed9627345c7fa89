package rsocketdemo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// 消息来源
const (
	OriginServer = "Server"
	OriginClient = "Client"
)

// 交互类型标签
const (
	InteractionRequest       = "Request"
	InteractionResponse      = "Response"
	InteractionFireAndForget = "Fire-And-Forget"
	InteractionStream        = "Stream"
	InteractionChannel       = "Channel"
)

// Message 请求与响应共用的负载
// Index 仅在 stream/channel 的输出中出现
type Message struct {
	Origin      string `json:"origin"`
	Interaction string `json:"interaction"`
	Index       *int64 `json:"index,omitempty"`
	Created     int64  `json:"created"`
}

// NewMessage 创建不带序号的消息
func NewMessage(origin, interaction string) Message {
	return Message{
		Origin:      origin,
		Interaction: interaction,
		Created:     time.Now().Unix(),
	}
}

// NewIndexedMessage 创建带序号的消息
func NewIndexedMessage(origin, interaction string, index int64) Message {
	m := NewMessage(origin, interaction)
	m.Index = &index
	return m
}

// Encode 序列化为 JSON
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshal message failed")
	}
	return data, nil
}

func (m Message) String() string {
	if m.Index == nil {
		return fmt.Sprintf("Message(origin=%s, interaction=%s, created=%d)", m.Origin, m.Interaction, m.Created)
	}
	return fmt.Sprintf("Message(origin=%s, interaction=%s, index=%d, created=%d)", m.Origin, m.Interaction, *m.Index, m.Created)
}

// DecodeMessage 反序列化消息，空负载或非法 JSON 返回 ErrInvalidMessage
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if len(bytes.TrimSpace(data)) == 0 {
		return m, errors.Wrap(ErrInvalidMessage, "empty payload")
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, errors.Wrapf(ErrInvalidMessage, "decode: %v", err)
	}
	return m, nil
}

// 网关控制事件
const (
	EventCancel   = "cancel"
	EventComplete = "complete"
	EventError    = "error"
)

// Envelope 表示 /ws 网关上传递的基础消息结构
// Event 为路由名或控制事件，ID 关联同一次交互的请求与响应
type Envelope struct {
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

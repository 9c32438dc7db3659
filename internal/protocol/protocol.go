// Package protocol 定义客户端与服务端之间的 JSON 线上消息。
//
// 客户端 -> 服务端发送 Update，所有字段均为可选，但除建立连接外的每条消息都必须携带 id；
// 服务端 -> 客户端发送 Snapshot，即针对某个参与者个性化的完整状态。
package protocol

import (
	"github.com/lk2023060901/coedit-go/pkg/util/merr"
)

// Update 为客户端上行的部分更新。
//
// 指针字段为 nil 表示该字段未出现在消息中，服务端不会修改对应属性。
type Update struct {
	ID            *uint64 `json:"id,omitempty"`
	Name          *string `json:"name,omitempty"`
	Text          *string `json:"text,omitempty"`
	CaretPosition *int    `json:"caretPosition,omitempty"`
}

// Validate 校验更新消息是否携带了参与者 id。
func (u *Update) Validate() error {
	if u == nil || u.ID == nil {
		return merr.WrapErrMissingParticipantID()
	}
	return nil
}

// Participant 为参与者对外可见的公共字段，不包含任何连接句柄。
type Participant struct {
	ID            uint64 `json:"id"`
	Color         string `json:"color"`
	Name          string `json:"name"`
	CaretPosition int    `json:"caretPosition"`
}

// Snapshot 为服务端下发给单个参与者的状态视图。
type Snapshot struct {
	User   Participant   `json:"user"`
	Others []Participant `json:"others"`
	Text   string        `json:"text"`
}

// NewTextUpdate 构造携带全文与光标位置的更新。
func NewTextUpdate(id uint64, text string, caretPosition int) Update {
	return Update{ID: &id, Text: &text, CaretPosition: &caretPosition}
}

// NewCaretUpdate 构造仅包含光标位置的更新。
func NewCaretUpdate(id uint64, caretPosition int) Update {
	return Update{ID: &id, CaretPosition: &caretPosition}
}

// NewNameUpdate 构造仅包含名称的更新。
func NewNameUpdate(id uint64, name string) Update {
	return Update{ID: &id, Name: &name}
}

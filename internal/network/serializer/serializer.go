package serializer

import (
	"strings"

	"github.com/lk2023060901/coedit-go/pkg/util/merr"
)

// Serializer 抽象了网络层“对象 <-> 字节流”的序列化能力。
//
// 设计目标：
//   - 面向网络消息编码，线上协议为 UTF-8 JSON 文本帧。
//   - 调用方通过接口注入具体实现，便于在不同 JSON 库之间切换。
type Serializer interface {
	// Marshal 将任意对象编码为字节序列。
	Marshal(v any) ([]byte, error)

	// Unmarshal 将字节序列解码到目标对象。
	//
	// v 通常为指针类型，用于接收解码结果。
	Unmarshal(data []byte, v any) error
}

const (
	NameSonic    = "sonic"
	NameJSONIter = "jsoniter"
)

// ByName 根据配置中的名称返回对应的 Serializer，空字符串返回默认的 sonic 实现。
func ByName(name string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameSonic, "json":
		return JSONSerializer{}, nil
	case NameJSONIter:
		return JSONIterSerializer{}, nil
	default:
		return nil, merr.WrapErrParameterInvalid("sonic|jsoniter", name, "unknown serializer")
	}
}

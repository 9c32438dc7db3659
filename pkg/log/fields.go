package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule      = "module"
	FieldNameComponent   = "component"
	FieldNameParticipant = "participantID"
	FieldNameSession     = "sessionID"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldParticipant 返回一个包含参与者 ID 的 zap 字段。
func FieldParticipant(id uint64) zap.Field {
	return zap.Uint64(FieldNameParticipant, id)
}

// FieldSession 返回一个包含传输层会话 ID 的 zap 字段。
func FieldSession(id uint64) zap.Field {
	return zap.Uint64(FieldNameSession, id)
}

package collab

import (
	"context"

	"go.uber.org/zap"

	"github.com/lk2023060901/coedit-go/internal/protocol"
	"github.com/lk2023060901/coedit-go/pkg/log"
	"github.com/lk2023060901/coedit-go/pkg/metrics"
	"github.com/lk2023060901/coedit-go/pkg/util/merr"
)

// Delivery 为一次广播中发给单个参与者的快照。
type Delivery struct {
	ParticipantID uint64
	Snapshot      protocol.Snapshot
}

// ComputeFanout 为除 sender 之外的每个在线参与者生成一份快照，顺序与注册顺序一致。
//
// sender 已不在注册表中时（例如刚断开），所有在线参与者都会收到快照。
func ComputeFanout(reg *Registry, sender uint64) []Delivery {
	deliveries := make([]Delivery, 0, reg.Len())
	for _, id := range reg.order {
		if id == sender {
			continue
		}
		snapshot, _ := reg.SnapshotFor(id)
		deliveries = append(deliveries, Delivery{ParticipantID: id, Snapshot: snapshot})
	}
	return deliveries
}

// Sender 是投递快照所需的最小能力，session.Session 满足该接口。
type Sender interface {
	Send(msg any) error
}

// Lookup 根据参与者 ID 找到其连接。
type Lookup func(participantID uint64) (Sender, bool)

// LookupFrom 返回基于注册表的 Lookup。
func LookupFrom(reg *Registry) Lookup {
	return func(id uint64) (Sender, bool) {
		p, ok := reg.Participant(id)
		if !ok || p.Session == nil {
			return nil, false
		}
		return p.Session, true
	}
}

// DeliveryFailure 记录一次失败的投递。
type DeliveryFailure struct {
	ParticipantID uint64
	Err           error
}

// DeliveryReport 汇总一次广播的投递结果。
type DeliveryReport struct {
	Sent   int
	Failed []DeliveryFailure
}

// Deliver 逐个投递快照。单个参与者投递失败只记录日志与指标，不影响其余参与者。
func Deliver(ctx context.Context, deliveries []Delivery, lookup Lookup) DeliveryReport {
	var report DeliveryReport
	if len(deliveries) == 0 {
		return report
	}
	metrics.FanoutSize.Observe(float64(len(deliveries)))

	logger := log.Ctx(ctx).With().WithRateGroup("collab.fanout", 1, 60)
	for _, d := range deliveries {
		sender, ok := lookup(d.ParticipantID)
		if !ok {
			// 连接已不存在，视为失败但不中断广播。
			report.Failed = append(report.Failed, DeliveryFailure{
				ParticipantID: d.ParticipantID,
				Err:           merr.WrapErrParticipantNotFound(d.ParticipantID, "no session"),
			})
			metrics.FanoutMessagesTotal.WithLabelValues(metrics.FanoutFailed).Inc()
			continue
		}
		if err := sender.Send(d.Snapshot); err != nil {
			report.Failed = append(report.Failed, DeliveryFailure{ParticipantID: d.ParticipantID, Err: err})
			metrics.FanoutMessagesTotal.WithLabelValues(metrics.FanoutFailed).Inc()
			logger.RatedWarn(1, "deliver snapshot failed",
				log.FieldParticipant(d.ParticipantID),
				zap.Error(err))
			continue
		}
		report.Sent++
		metrics.FanoutMessagesTotal.WithLabelValues(metrics.FanoutSent).Inc()
	}
	return report
}

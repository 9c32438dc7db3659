// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// coeditNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	coeditNamespace = "coedit"

	resultLabelName = "result"

	// UpdateResult 取值。
	UpdateApplied            = "applied"
	UpdateUnknownParticipant = "unknown_participant"
	UpdateMalformed          = "malformed"

	// FanoutResult 取值。
	FanoutSent   = "sent"
	FanoutFailed = "failed"
)

var (
	// fanoutBuckets 为单次广播的投递条数分布。
	fanoutBuckets = prometheus.ExponentialBuckets(1, 2, 10)

	ParticipantsOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: coeditNamespace,
			Name:      "participants_online",
			Help:      "当前在线的参与者数量",
		})

	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: coeditNamespace,
			Name:      "updates_total",
			Help:      "收到的更新消息数量，按处理结果区分",
		}, []string{resultLabelName})

	FanoutMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: coeditNamespace,
			Name:      "fanout_messages_total",
			Help:      "广播投递的快照数量，按投递结果区分",
		}, []string{resultLabelName})

	FanoutSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: coeditNamespace,
			Name:      "fanout_size",
			Help:      "单次广播包含的快照条数",
			Buckets:   fanoutBuckets,
		})

	DocumentChars = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: coeditNamespace,
			Name:      "document_chars",
			Help:      "共享文档当前的字符数",
		})

	registerOnce     sync.Once
	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，重复调用只生效一次。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(ParticipantsOnline)
		r.MustRegister(UpdatesTotal)
		r.MustRegister(FanoutMessagesTotal)
		r.MustRegister(FanoutSize)
		r.MustRegister(DocumentChars)
		metricRegisterer = r
	})
}

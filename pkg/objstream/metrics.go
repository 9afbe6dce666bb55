package objstream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lk2023060901/objstream-go/internal/stream/wire"
	"github.com/lk2023060901/objstream-go/pkg/metrics"
	"github.com/lk2023060901/objstream-go/pkg/util/merr"
)

// streamMetrics 一端的指标，按记录类型预先取好计数器。
type streamMetrics struct {
	side    string
	records map[byte]prometheus.Counter
	bytes   prometheus.Observer
	resets  prometheus.Counter
}

var (
	writeMetrics = newStreamMetrics(metrics.SideWrite)
	readMetrics  = newStreamMetrics(metrics.SideRead)
)

func newStreamMetrics(side string) *streamMetrics {
	m := &streamMetrics{
		side:    side,
		records: make(map[byte]prometheus.Counter),
		bytes:   metrics.StreamBytes.WithLabelValues(side),
		resets:  metrics.StreamResets.WithLabelValues(side),
	}
	for tc := wire.TcBase; tc <= wire.TcMax; tc++ {
		if name := wire.TypeCodeName(tc); name != "" {
			m.records[tc] = metrics.StreamRecords.WithLabelValues(side, name)
		}
	}
	return m
}

func (m *streamMetrics) record(tc byte) {
	if c, ok := m.records[tc]; ok {
		c.Inc()
	}
}

func (m *streamMetrics) failed(err error) {
	metrics.StreamErrors.WithLabelValues(m.side, merr.CodeName(err)).Inc()
}

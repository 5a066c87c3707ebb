package credlife

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/credlife/internal/audit"
	"github.com/redis/go-redis/v9"
)

// ChannelAuditSink buffers events in a channel, mostly useful in tests.
type ChannelAuditSink = audit.ChannelSink

func NewChannelAuditSink(buffer int) *ChannelAuditSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterAuditSink writes one JSON object per line to w.
func NewJSONWriterAuditSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogAuditSink logs events through logger. Critical events log at error.
func NewSlogAuditSink(logger *slog.Logger) AuditSink {
	return audit.NewSlogSink(logger)
}

// NewRedisStreamAuditSink appends events to a Redis stream capped near maxLen
// entries. A maxLen of zero leaves the stream uncapped.
func NewRedisStreamAuditSink(rdb redis.UniversalClient, stream string, maxLen int64) AuditSink {
	return audit.NewRedisStreamSink(rdb, stream, maxLen)
}

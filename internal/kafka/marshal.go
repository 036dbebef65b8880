package kafka

import (
	"slices"

	"github.com/samber/lo"
	"github.com/segmentio/kafka-go"
)

// toKafkaHeaders sorts by key so the wire order is stable.
func toKafkaHeaders(m map[string]string) []kafka.Header {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return lo.Map(keys, func(k string, _ int) kafka.Header {
		return kafka.Header{Key: k, Value: []byte(m[k])}
	})
}

func headerMap(hs []kafka.Header) map[string]string {
	return lo.SliceToMap(hs, func(h kafka.Header) (string, string) {
		return h.Key, string(h.Value)
	})
}

package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent order creation: idem:order:create:{idempotency_key} -> order_id,
	// or IdemPending while the first request is still running.
	KeyIdemOrderCreate = "idem:order:create:%s"

	IdemPending = "PENDING"

	// Cached order status: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Processed events per consumer: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Last sequence seen per consumer and aggregate: eventseq:{consumer}:{aggregate_id}
	KeyEventSeq = "eventseq:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLIdemPending = 2 * time.Minute
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLEventSeq    = 7 * 24 * time.Hour
)

func IdemOrderCreateKey(key string) string { return fmt.Sprintf(KeyIdemOrderCreate, key) }

func OrderStatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func DedupKey(consumer, eventID string) string { return fmt.Sprintf(KeyDedup, consumer, eventID) }

func EventSeqKey(consumer, aggregateID string) string {
	return fmt.Sprintf(KeyEventSeq, consumer, aggregateID)
}

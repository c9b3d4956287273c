package redisx

import (
	"fmt"
	"time"
)

const (
	// order_status:{order_uuid} -> StatusSnapshot JSON
	KeyOrderStatus = "order_status:%s"

	// lock:capture:{gateway_ref} -> lock token
	KeyCaptureLock = "lock:capture:%s"

	// dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLCaptureLock = 30 * time.Second
	TTLDedup       = 48 * time.Hour
)

func OrderStatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func CaptureLockKey(ref string) string { return fmt.Sprintf(KeyCaptureLock, ref) }

func DedupKey(consumer, eventID string) string { return fmt.Sprintf(KeyDedup, consumer, eventID) }

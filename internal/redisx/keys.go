package redisx

import "time"

const (
	// Per-order mutex held by a fulfillment execution: lock:order:{order_id}
	KeyOrderLock = "lock:order:%s"

	// Best courier picked by rate shopping, handed to fulfillment: courierId:{order_id} -> courier id
	KeyCourierID = "courierId:%s"

	// Pincode serviceability cache: shipping:pincode:{pincode} -> "1" | "0"
	KeyServiceability = "shipping:pincode:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderLock      = 60 * time.Second
	TTLCourierID      = 2000 * time.Second
	TTLServiceability = 24 * time.Hour
	TTLDedup          = 48 * time.Hour
)

package redisx

import "time"

const (
	// Reservation: reservation:saree:{saree_id} -> order_id, TTL = reservation window
	KeyReservation = "reservation:saree:%s"

	// Dedup dispatch task processing: dedup:{service}:{event_id} -> processing|done
	KeyDedup = "dedup:%s:%s"

	DedupProcessing = "processing"
	DedupDone       = "done"
)

var (
	TTLDedup      = 48 * time.Hour
	TTLDedupClaim = 2 * time.Minute // outlives one handler attempt
)

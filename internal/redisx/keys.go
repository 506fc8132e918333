package redisx

import "time"

const (
	// Hold lease per table and slot: hold:lease:{date}:{time}:{table_id} -> user email
	KeyHoldLease = "hold:lease:%s:%s:%s"

	// Dedup relay requests: dedup:{service}:{request_id}
	KeyDedup = "dedup:%s:%s"

	// Catalog cache: catalog:{drinks|menus}
	KeyCatalog = "catalog:%s"
)

var TTLDedup = 10 * time.Minute

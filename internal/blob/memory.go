package blob

import (
	memorystore "tradepost/internal/infra/blob/memory"
)

// NewMemory returns an in-memory blob.Store. Nothing survives the process.
func NewMemory() Store { return memorystore.New() }

package memory

import "github.com/tinoosan/recon/internal/storage"

// Compile-time checks that the in-memory store and its transactional view
// satisfy the contract.
var (
	_ storage.Store = (*Store)(nil)
	_ storage.Store = txView{}
)

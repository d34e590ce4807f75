package httpapi

import (
	"github.com/tinoosan/recon/internal/service/matcher"
	"github.com/tinoosan/recon/internal/storage"
	"github.com/tinoosan/recon/internal/storage/memory"
)

// Compile-time interface assertions for the in-memory Store.
var (
	_ storage.Store = (*memory.Store)(nil)
	_ matcher.Repo  = (*memory.Store)(nil)
)

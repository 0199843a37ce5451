package repo

import (
	"context"

	"github.com/tinoosan/vodcache/internal/data"
)

// AssetRepo is the ledger of every asset the orchestrator has reported on.
type AssetRepo interface {
	AssetReader
	AssetWriter
}

type AssetReader interface {
	List(ctx context.Context) (data.Assets, error)
	Get(ctx context.Context, id string) (*data.Asset, error)
}

type AssetWriter interface {
	// Upsert loads the record for id, or a blank one, applies mutate and
	// stores the result. A mutate error aborts the write.
	Upsert(ctx context.Context, id string, mutate func(*data.Asset) error) (*data.Asset, error)
	Delete(ctx context.Context, id string) error
}

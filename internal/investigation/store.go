package investigation

import "context"

// Store is the persistence interface for investigation state. Saves are
// append-only versioned: every save writes a new version and returns it.
type Store interface {
	Save(ctx context.Context, st *State) (version int64, err error)
	Get(ctx context.Context, id string) (*State, bool, error)
	GetByTransaction(ctx context.Context, transactionID string) (*State, bool, error)
	List(ctx context.Context, limit int) ([]*State, error)
}

package laboratory

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, t *TestRequest) error
	Get(ctx context.Context, id uuid.UUID) (*TestRequest, error)
	List(ctx context.Context, f Filter) ([]*TestRequest, int, error)
	// Complete stores the result on a pending request and reports whether
	// the request was still pending.
	Complete(ctx context.Context, id, by uuid.UUID, result string) (bool, error)
}

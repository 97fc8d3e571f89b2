package pharmacy

import (
	"context"

	"github.com/google/uuid"
)

type DrugRepository interface {
	Create(ctx context.Context, d *Drug) error
	Update(ctx context.Context, d *Drug) error
	Get(ctx context.Context, id uuid.UUID) (*Drug, error)
	List(ctx context.Context, search string, limit, offset int) ([]*Drug, int, error)
	// Lock loads the given drugs with row locks, taken in id order.
	Lock(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Drug, error)
	// Take decrements stock. It fails with a conflict when fewer than qty remain.
	Take(ctx context.Context, id uuid.UUID, qty int) error
}

type RecordRepository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	// Get returns the record with its treatments.
	Get(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	List(ctx context.Context, f RecordFilter) ([]*MedicalRecord, int, error)
	SetTreatmentCreated(ctx context.Context, id uuid.UUID) error

	CreateTreatment(ctx context.Context, t *Treatment) error
	MarkSentToPharmacy(ctx context.Context, recordID uuid.UUID) (int64, error)
}

type ReferralRepository interface {
	Create(ctx context.Context, r *Referral) error
	Get(ctx context.Context, id uuid.UUID) (*Referral, error)
	// Lock loads a referral with a row lock.
	Lock(ctx context.Context, id uuid.UUID) (*Referral, error)
	List(ctx context.Context, f ReferralFilter) ([]*Referral, int, error)
	// MarkPaid records the sale against an unpaid referral and reports
	// whether it was unpaid.
	MarkPaid(ctx context.Context, id uuid.UUID, saleID string) (bool, error)

	Deliver(ctx context.Context, items []*DeliveredMedication) error
	SaleItems(ctx context.Context, saleID string) ([]*DeliveredMedication, error)
}

package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meditatva/connect/internal/platform/db"
	"github.com/meditatva/connect/internal/platform/geo"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const requestCols = `id, patient_id, medicines, urgency, lat, lon, address,
	prescription_ref, status, accepted_response_id, cancel_reason,
	expires_at, created_at, updated_at`

const responseCols = `id, request_id, pharmacy_id, items, total_price, discount,
	final_price, estimated_time, notes, is_active, responded_at`

const messageCols = `id, request_id, sender_id, content, kind, sent_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.PatientID, &req.Medicines, &req.Urgency,
		&req.Origin.Lat, &req.Origin.Lon, &req.Address,
		&req.PrescriptionRef, &req.Status, &req.AcceptedResponseID,
		&req.CancelReason, &req.ExpiresAt, &req.CreatedAt, &req.UpdatedAt)
	return &req, err
}

func scanResponse(row pgx.Row) (*Response, error) {
	var resp Response
	err := row.Scan(&resp.ID, &resp.RequestID, &resp.PharmacyID, &resp.Items,
		&resp.TotalPrice, &resp.Discount, &resp.FinalPrice,
		&resp.EstimatedTime, &resp.Notes, &resp.IsActive, &resp.RespondedAt)
	return &resp, err
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.RequestID, &m.SenderID, &m.Content, &m.Kind, &m.SentAt)
	return &m, err
}

func (r *repoPG) Create(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medicine_request (id, patient_id, medicines, urgency, lat, lon,
			address, prescription_ref, status, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		req.ID, req.PatientID, req.Medicines, req.Urgency,
		req.Origin.Lat, req.Origin.Lon, req.Address,
		req.PrescriptionRef, req.Status, req.ExpiresAt,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Request, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM medicine_request WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.Responses, err = r.responsesFor(ctx, id); err != nil {
		return nil, err
	}
	if req.Messages, err = r.messagesFor(ctx, id); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *repoPG) responsesFor(ctx context.Context, requestID uuid.UUID) ([]*Response, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+responseCols+` FROM request_response WHERE request_id = $1 ORDER BY responded_at`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Response
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, resp)
	}
	return items, rows.Err()
}

func (r *repoPG) messagesFor(ctx context.Context, requestID uuid.UUID) ([]*Message, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+messageCols+` FROM request_message WHERE request_id = $1 ORDER BY sent_at`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, cancelReason string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicine_request
		SET status = $2,
		    cancel_reason = CASE WHEN $3 = '' THEN cancel_reason ELSE $3 END,
		    updated_at = NOW()
		WHERE id = $1`,
		id, status, cancelReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) MarkExpired(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicine_request SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, StatusExpired, StatusOpen)
	return err
}

func (r *repoPG) AddResponse(ctx context.Context, resp *Response) error {
	if resp.ID == uuid.Nil {
		resp.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO request_response (id, request_id, pharmacy_id, items,
			total_price, discount, final_price, estimated_time, notes, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING responded_at`,
		resp.ID, resp.RequestID, resp.PharmacyID, resp.Items,
		resp.TotalPrice, resp.Discount, resp.FinalPrice,
		resp.EstimatedTime, resp.Notes, resp.IsActive,
	).Scan(&resp.RespondedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: pharmacy %s", ErrDuplicateResponse, resp.PharmacyID)
	}
	return err
}

func (r *repoPG) Accept(ctx context.Context, requestID, responseID uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE medicine_request
			SET status = $3, accepted_response_id = $2, updated_at = NOW()
			WHERE id = $1 AND status = $4`,
			requestID, responseID, StatusAccepted, StatusOpen)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRequestClosed
		}
		_, err = r.conn(ctx).Exec(ctx, `
			UPDATE request_response SET is_active = FALSE
			WHERE request_id = $1 AND id <> $2`,
			requestID, responseID)
		return err
	})
}

func (r *repoPG) AddMessage(ctx context.Context, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO request_message (id, request_id, sender_id, content, kind)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING sent_at`,
		m.ID, m.RequestID, m.SenderID, m.Content, m.Kind,
	).Scan(&m.SentAt)
}

// FindNearby runs against the earthdistance index; radius is in kilometers
// while earth_distance returns meters.
func (r *repoPG) FindNearby(ctx context.Context, p geo.Point, radiusKm float64, limit, offset int) ([]*Request, int, error) {
	const where = `status = 'open' AND expires_at > NOW()
		AND earth_distance(ll_to_earth(lat, lon), ll_to_earth($1, $2)) <= $3`
	radiusM := radiusKm * 1000

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medicine_request WHERE `+where,
		p.Lat, p.Lon, radiusM).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+requestCols+` FROM medicine_request WHERE `+where+`
		ORDER BY earth_distance(ll_to_earth(lat, lon), ll_to_earth($1, $2))
		LIMIT $4 OFFSET $5`,
		p.Lat, p.Lon, radiusM, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medicine_request WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+requestCols+` FROM medicine_request WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListByPharmacy(ctx context.Context, pharmacyID string, limit, offset int) ([]*Request, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM medicine_request mr
		WHERE EXISTS (SELECT 1 FROM request_response rr
			WHERE rr.request_id = mr.id AND rr.pharmacy_id = $1)`,
		pharmacyID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+requestCols+` FROM medicine_request mr
		WHERE EXISTS (SELECT 1 FROM request_response rr
			WHERE rr.request_id = mr.id AND rr.pharmacy_id = $1)
		ORDER BY mr.created_at DESC LIMIT $2 OFFSET $3`,
		pharmacyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items, err := collectRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ExpireOpenBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicine_request SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= $3`,
		StatusExpired, StatusOpen, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func collectRequests(rows pgx.Rows) ([]*Request, error) {
	var items []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, req)
	}
	return items, rows.Err()
}

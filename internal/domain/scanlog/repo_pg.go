package scanlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrmedi/qrmedi/internal/platform/apperr"
	"github.com/qrmedi/qrmedi/internal/platform/db"
)

type scanLogRepoPG struct {
	pool *pgxpool.Pool
}

func NewScanLogRepo(pool *pgxpool.Pool) ScanLogRepository {
	return &scanLogRepoPG{pool: pool}
}

func (r *scanLogRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const scanCols = `id, record_id, scanned_by, scanned_at, source_ip`

func (r *scanLogRepoPG) Append(ctx context.Context, l *QrScanLog, q Quota) error {
	return db.InTx(ctx, r.pool, func(ctx context.Context) error {
		conn := r.conn(ctx)
		if q.Limit > 0 {
			// Serialises appends for one record until commit.
			if _, err := conn.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text))`, l.RecordID); err != nil {
				return fmt.Errorf("lock scan quota: %w", err)
			}
			var n int
			err := conn.QueryRow(ctx,
				`SELECT COUNT(*) FROM qr_scan_logs WHERE record_id = $1 AND scanned_at >= $2`,
				l.RecordID, q.Since,
			).Scan(&n)
			if err != nil {
				return fmt.Errorf("count scans: %w", err)
			}
			if n >= q.Limit {
				return apperr.ScanQuotaExceeded(q.Limit)
			}
		}

		l.ID = uuid.New()
		_, err := conn.Exec(ctx, `
			INSERT INTO qr_scan_logs (id, record_id, scanned_by, scanned_at, source_ip)
			VALUES ($1, $2, $3, $4, $5)`,
			l.ID, l.RecordID, l.ScannedByUserID, l.ScannedAt, l.SourceIP,
		)
		if err != nil {
			return fmt.Errorf("insert scan log: %w", err)
		}
		return nil
	})
}

func (r *scanLogRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*QrScanLog, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+scanCols+` FROM qr_scan_logs WHERE record_id = $1 ORDER BY seq`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list scan logs: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (r *scanLogRepoPG) Search(ctx context.Context, w window, limit, offset int) ([]*QrScanLog, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if w.RecordID != "" {
		add("record_id::text ILIKE $%d", db.LikeContains(strings.ToLower(w.RecordID)))
	}
	if w.ScannedBy != uuid.Nil {
		add("scanned_by = $%d", w.ScannedBy)
	}
	if !w.From.IsZero() {
		add("scanned_at >= $%d", w.From)
	}
	if !w.To.IsZero() {
		add("scanned_at < $%d", w.To)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM qr_scan_logs`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count scan logs: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM qr_scan_logs%s ORDER BY seq DESC LIMIT $%d OFFSET $%d`,
		scanCols, cond, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("search scan logs: %w", err)
	}
	defer rows.Close()
	logs, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (r *scanLogRepoPG) Count(ctx context.Context, since time.Time) (int, error) {
	var n int
	var err error
	if since.IsZero() {
		err = r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM qr_scan_logs`).Scan(&n)
	} else {
		err = r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM qr_scan_logs WHERE scanned_at >= $1`, since).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count scan logs: %w", err)
	}
	return n, nil
}

func collect(rows pgx.Rows) ([]*QrScanLog, error) {
	var out []*QrScanLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scan logs: %w", err)
	}
	return out, nil
}

func scanLog(row pgx.Row) (*QrScanLog, error) {
	var l QrScanLog
	if err := row.Scan(&l.ID, &l.RecordID, &l.ScannedByUserID, &l.ScannedAt, &l.SourceIP); err != nil {
		return nil, fmt.Errorf("scan log row: %w", err)
	}
	return &l, nil
}

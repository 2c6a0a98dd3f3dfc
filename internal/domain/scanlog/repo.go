package scanlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ScanLogRepository interface {
	// Append stores l unless the record already has Quota.Limit scans since
	// Quota.Since, in which case it fails with scan_quota_exceeded. The count
	// and the insert are atomic per record.
	Append(ctx context.Context, l *QrScanLog, q Quota) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*QrScanLog, error)
	Search(ctx context.Context, w window, limit, offset int) ([]*QrScanLog, int, error)
	// Count returns the number of scans at or after since; a zero since
	// counts everything.
	Count(ctx context.Context, since time.Time) (int, error)
}

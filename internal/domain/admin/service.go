package admin

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qrmedi/qrmedi/internal/domain/scheduling"
	"github.com/qrmedi/qrmedi/internal/platform/access"
)

type UserCounter interface {
	CountByRole(ctx context.Context) (map[access.Role]int, error)
}

type RecordCounter interface {
	Count(ctx context.Context) (int, error)
}

type AppointmentCounter interface {
	CountByStatus(ctx context.Context) (map[scheduling.Status]int, error)
}

type ScanCounter interface {
	Count(ctx context.Context) (total, today int, err error)
}

type Service struct {
	users   UserCounter
	records RecordCounter
	appts   AppointmentCounter
	scans   ScanCounter
	authz   *access.Authorizer
	logger  zerolog.Logger
}

func NewService(users UserCounter, records RecordCounter, appts AppointmentCounter, scans ScanCounter, authz *access.Authorizer, logger zerolog.Logger) *Service {
	return &Service{
		users:   users,
		records: records,
		appts:   appts,
		scans:   scans,
		authz:   authz,
		logger:  logger.With().Str("component", "admin").Logger(),
	}
}

// Stats gathers the dashboard counters concurrently.
func (s *Service) Stats(ctx context.Context, caller access.Caller) (*Stats, error) {
	if err := s.authz.Check(caller, access.StatsRead, access.Target{}); err != nil {
		return nil, err
	}

	out := newStats()
	var (
		byRole   map[access.Role]int
		byStatus map[scheduling.Status]int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		byRole, err = s.users.CountByRole(ctx)
		return wrap("users", err)
	})
	g.Go(func() (err error) {
		out.Records, err = s.records.Count(ctx)
		return wrap("records", err)
	})
	g.Go(func() (err error) {
		byStatus, err = s.appts.CountByStatus(ctx)
		return wrap("appointments", err)
	})
	g.Go(func() (err error) {
		out.Scans, out.ScansToday, err = s.scans.Count(ctx)
		return wrap("scans", err)
	})
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Msg("collect stats")
		return nil, err
	}

	for role, n := range byRole {
		out.Users[role] = n
	}
	for status, n := range byStatus {
		out.Appointments[status] = n
	}
	return out, nil
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("count %s: %w", what, err)
}

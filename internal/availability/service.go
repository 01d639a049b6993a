package availability

import (
	"context"
	"time"

	"github.com/msaedi/instructly-sub008/internal/apperr"
)

type Service interface {
	GetDay(ctx context.Context, ownerID int64, date time.Time) (*DayResponse, error)
	Check(ctx context.Context, ownerID int64, req CheckRequest) (bool, error)
}

type service struct {
	repo  Repository
	guard *Guard
}

func NewService(repo Repository, guard *Guard) Service {
	return &service{repo: repo, guard: guard}
}

func (s *service) GetDay(ctx context.Context, ownerID int64, date time.Time) (*DayResponse, error) {
	bits, found, err := s.repo.GetDay(ctx, ownerID, date)
	if err != nil {
		return nil, apperr.Internal("failed to load availability", err)
	}
	windows, err := s.repo.ListWindows(ctx, ownerID, date)
	if err != nil {
		return nil, apperr.Internal("failed to load availability windows", err)
	}

	resp := &DayResponse{
		OwnerID: ownerID,
		Date:    date.Format(DateLayout),
		Open:    []SlotRange{},
		Windows: windows,
	}
	if resp.Windows == nil {
		resp.Windows = []Window{}
	}
	if found {
		if ranges := bits.OpenRanges(); ranges != nil {
			resp.Open = ranges
		}
	}
	return resp, nil
}

func (s *service) Check(ctx context.Context, ownerID int64, req CheckRequest) (bool, error) {
	date, err := ParseDate(req.Date)
	if err != nil {
		return false, apperr.Validation("date must be YYYY-MM-DD")
	}

	var after, before *int
	if req.After != "" {
		m, err := ParseClock(req.After)
		if err != nil {
			return false, apperr.Validation("after must be HH:MM")
		}
		after = &m
	}
	if req.Before != "" {
		m, err := ParseClock(req.Before)
		if err != nil {
			return false, apperr.Validation("before must be HH:MM")
		}
		before = &m
	}

	return s.guard.CheckAvailable(ctx, ownerID, date, after, before, req.DurationMinutes)
}

package expiry

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/incident_dispatch/internal/service/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestSweeper(t *testing.T) (*Sweeper, *mocks.MockOfferStore, *mocks.MockIncidentService) {
	ctrl := gomock.NewController(t)
	offers := mocks.NewMockOfferStore(ctrl)
	incidents := mocks.NewMockIncidentService(ctrl)

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	return NewSweeper(offers, incidents, logger, time.Second), offers, incidents
}

func TestRunOnce_ExpiresDueOffers(t *testing.T) {
	// Подготовка
	s, offers, incidents := newTestSweeper(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	s.now = func() time.Time { return now }
	i1, i2 := uuid.New(), uuid.New()

	// Ожидания
	offers.EXPECT().Due(ctx, now, int64(sweepBatch)).Return([]uuid.UUID{i1, i2}, nil)
	incidents.EXPECT().ExpireOffer(ctx, i1).Return(nil)
	incidents.EXPECT().ExpireOffer(ctx, i2).Return(errors.New("db down"))

	// Действие
	n, err := s.RunOnce(ctx)

	// Проверки
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunOnce_DueFailure(t *testing.T) {
	s, offers, _ := newTestSweeper(t)
	ctx := context.Background()

	offers.EXPECT().Due(ctx, gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down"))

	_, err := s.RunOnce(ctx)
	assert.ErrorContains(t, err, "could not list due offers")
}

func TestStart_RunsOnSchedule(t *testing.T) {
	s, offers, incidents := newTestSweeper(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id := uuid.New()

	done := make(chan struct{})
	offers.EXPECT().Due(gomock.Any(), gomock.Any(), gomock.Any()).Return([]uuid.UUID{id}, nil).MinTimes(1)
	incidents.EXPECT().ExpireOffer(gomock.Any(), id).DoAndReturn(func(context.Context, uuid.UUID) error {
		select {
		case <-done:
		default:
			close(done)
		}
		return nil
	}).MinTimes(1)

	require.NoError(t, s.Start(ctx))
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("sweeper did not run")
	}
	<-s.Stop().Done()
}

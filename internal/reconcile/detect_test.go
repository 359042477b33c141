package reconcile

import (
	"testing"
	"time"

	"perpKeeper/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ethRecord() *domain.PositionRecord {
	return &domain.PositionRecord{
		ID:               1,
		Symbol:           "ETHUSDT",
		Direction:        domain.Long,
		Quantity:         10,
		OriginalQuantity: 10,
		LastKnownSize:    10,
		EntryPrice:       3000,
		ATR:              50,
		Status:           domain.StatusOpen,
	}
}

func TestNextTP2RemainingPercent(t *testing.T) {
	p := DefaultParams()
	assert.InDelta(t, 56.0, NextTP2RemainingPercent(0, p), 1e-9)
	assert.InDelta(t, 44.8, NextTP2RemainingPercent(1, p), 1e-9)
	assert.InDelta(t, 35.84, NextTP2RemainingPercent(2, p), 1e-9)
}

func TestDetectTransition(t *testing.T) {
	p := DefaultParams()

	tests := []struct {
		name    string
		mutate  func(*domain.PositionRecord)
		current float64
		want    Transition
	}{
		{name: "unchanged", current: 10},
		{name: "small increase is noise", current: 10.4},
		{name: "add", current: 15, want: Transition{Added: 5}},
		{name: "small decrease is noise", current: 9.9},
		{name: "decrease above tp1 threshold", current: 8},
		{name: "tp1 fill", current: 7, want: Transition{TP1: true}},
		{name: "tp1 fill at boundary", current: 7.5, want: Transition{TP1: true}},
		{
			name:    "tp1 stage partial decrease",
			mutate:  func(r *domain.PositionRecord) { r.TP1Hit = true; r.Quantity = 7; r.LastKnownSize = 7 },
			current: 6.8,
		},
		{
			name:    "first tp2 fill",
			mutate:  func(r *domain.PositionRecord) { r.TP1Hit = true; r.Quantity = 7; r.LastKnownSize = 7 },
			current: 5.6,
			want:    Transition{TP2: true},
		},
		{
			name: "second tp2 fill",
			mutate: func(r *domain.PositionRecord) {
				r.TP1Hit, r.TP2Hit, r.TP2Count = true, true, 1
				r.Quantity, r.LastKnownSize = 5.6, 5.6
			},
			current: 4.48,
			want:    Transition{TP2: true},
		},
		{
			name: "tp2 after add uses the slice size",
			mutate: func(r *domain.PositionRecord) {
				r.TP1Hit = true
				r.OriginalQuantity, r.Quantity, r.LastKnownSize = 12, 10, 10
			},
			current: 8,
			want:    Transition{TP2: true},
		},
		{
			name:    "position gone",
			current: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ethRecord()
			if tt.mutate != nil {
				tt.mutate(rec)
			}
			got := DetectTransition(rec, tt.current, p)
			assert.InDelta(t, tt.want.Added, got.Added, 1e-9)
			assert.Equal(t, tt.want.TP1, got.TP1)
			assert.Equal(t, tt.want.TP2, got.TP2)
		})
	}
}

func TestApplyTransition(t *testing.T) {
	p := DefaultParams()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("tp1 logs one event", func(t *testing.T) {
		rec := ethRecord()
		tr := DetectTransition(rec, 7, p)
		events := ApplyTransition(rec, tr, 7, now)

		require.Len(t, events, 1)
		assert.Equal(t, domain.EventTakeProfit, events[0].Type)
		assert.Equal(t, domain.Long, events[0].Direction)
		assert.Equal(t, now, events[0].Time)
		assert.True(t, rec.TP1Hit)
		assert.Equal(t, 7.0, rec.Quantity)
		assert.Equal(t, 7.0, rec.LastKnownSize)
		assert.Equal(t, 10.0, rec.OriginalQuantity)
		assert.Equal(t, domain.StageTP1Hit, rec.Stage())
	})

	t.Run("add grows the basis", func(t *testing.T) {
		rec := ethRecord()
		events := ApplyTransition(rec, DetectTransition(rec, 15, p), 15, now)
		assert.Empty(t, events)
		assert.Equal(t, 15.0, rec.OriginalQuantity)
		assert.Equal(t, 15.0, rec.LastKnownSize)
	})

	t.Run("add keeps stage", func(t *testing.T) {
		rec := ethRecord()
		rec.TP1Hit, rec.Quantity, rec.LastKnownSize = true, 7, 7
		ApplyTransition(rec, DetectTransition(rec, 12, p), 12, now)
		assert.True(t, rec.TP1Hit)
		assert.Equal(t, 15.0, rec.OriginalQuantity)
	})

	t.Run("quantity never exceeds original", func(t *testing.T) {
		rec := ethRecord()
		rec.OriginalQuantity = 8
		ApplyTransition(rec, Transition{}, 10.2, now)
		assert.Equal(t, 10.2, rec.OriginalQuantity)
	})

	t.Run("cascade counter increments", func(t *testing.T) {
		rec := ethRecord()
		rec.TP1Hit, rec.Quantity, rec.LastKnownSize = true, 7, 7
		events := ApplyTransition(rec, DetectTransition(rec, 5.6, p), 5.6, now)
		require.Len(t, events, 1)
		assert.True(t, rec.TP2Hit)
		assert.Equal(t, 1, rec.TP2Count)
		assert.Equal(t, domain.StageTP2Hit, rec.Stage())
	})
}

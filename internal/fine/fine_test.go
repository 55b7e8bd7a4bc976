package fine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompute(t *testing.T) {
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		returnedAt time.Time
		rateCents  int64
		want       int64
	}{
		{
			name:       "returned on due date",
			returnedAt: due,
			rateCents:  10,
			want:       0,
		},
		{
			name:       "returned before due date",
			returnedAt: due.Add(-48 * time.Hour),
			rateCents:  10,
			want:       0,
		},
		{
			name:       "three full days late",
			returnedAt: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
			rateCents:  10,
			want:       30,
		},
		{
			name:       "hours within the last day do not add a day",
			returnedAt: due.Add(24*time.Hour + 23*time.Hour),
			rateCents:  10,
			want:       10,
		},
		{
			name:       "late within the same calendar day",
			returnedAt: due.Add(6 * time.Hour),
			rateCents:  10,
			want:       0,
		},
		{
			name:       "crossing midnight counts as a day",
			returnedAt: time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC),
			rateCents:  10,
			want:       10,
		},
		{
			name:       "rate in cents",
			returnedAt: due.Add(5 * 24 * time.Hour),
			rateCents:  1000,
			want:       5000,
		},
		{
			name:       "zero rate",
			returnedAt: due.Add(10 * 24 * time.Hour),
			rateCents:  0,
			want:       0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(due, tt.returnedAt, tt.rateCents)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeAcrossDSTTransition(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 10 марта 2024 — переход на летнее время: длительность между отметками
	// составляет 71 час, но календарных дней просрочки три.
	due := time.Date(2024, 3, 8, 22, 0, 0, 0, loc)
	ret := time.Date(2024, 3, 11, 22, 0, 0, 0, loc)

	assert.Equal(t, int64(30), Compute(due, ret, 10))
}

func TestComputeDeterministic(t *testing.T) {
	due := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ret := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	first := Compute(due, ret, 25)
	second := Compute(due, ret, 25)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(9*25), first)
}

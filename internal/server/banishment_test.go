package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arkanis/querymanager/internal/db"
)

func TestCompoundBanishment(t *testing.T) {
	tests := []struct {
		name         string
		status       db.BanishmentStatus
		finalWarning bool
		days         int
		wantFinal    bool
		wantDays     int
	}{
		{
			name:     "first offense unchanged",
			days:     7,
			wantDays: 7,
		},
		{
			name:         "standing final warning goes permanent",
			status:       db.BanishmentStatus{FinalWarning: true, TimesBanished: 1},
			finalWarning: true,
			days:         7,
			wantFinal:    false,
			wantDays:     0,
		},
		{
			name:      "repeat offender short request raised to 30",
			status:    db.BanishmentStatus{TimesBanished: 6},
			days:      7,
			wantFinal: true,
			wantDays:  30,
		},
		{
			name:      "repeat offender long request doubled",
			status:    db.BanishmentStatus{TimesBanished: 6},
			days:      45,
			wantFinal: true,
			wantDays:  90,
		},
		{
			name:         "requested final warning short request raised to 30",
			finalWarning: true,
			days:         10,
			wantFinal:    true,
			wantDays:     30,
		},
		{
			name:         "requested final warning exactly 30 doubled",
			finalWarning: true,
			days:         30,
			wantFinal:    true,
			wantDays:     60,
		},
		{
			name:     "five prior banishments not yet escalated",
			status:   db.BanishmentStatus{TimesBanished: 5},
			days:     14,
			wantDays: 14,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			final, days := compoundBanishment(tt.status, tt.finalWarning, tt.days)
			assert.Equal(t, tt.wantFinal, final)
			assert.Equal(t, tt.wantDays, days)
		})
	}
}

package domain

import (
	"testing"
	"time"
)

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		name     string
		kind     BackupKind
		schedule string
		wantErr  bool
	}{
		{"daily logical", KindLogical, "0 3 * * *", false},
		{"weekly physical", KindPhysical, "30 2 * * 0", false},
		{"logical without schedule", KindLogical, "", true},
		{"malformed expression", KindLogical, "not a cron", true},
		{"six fields rejected", KindLogical, "0 0 3 * * *", true},
		{"binlog without schedule", KindBinlog, "", false},
		{"binlog with schedule", KindBinlog, "0 3 * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(1, tt.kind, tt.schedule)
			err := p.ValidateSchedule()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNextRun(t *testing.T) {
	p := NewPolicy(1, KindLogical, "0 3 * * *")

	after := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	next, err := p.NextRun(after)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}
	want := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", next, want)
	}

	// Strictly after: asking at exactly 03:00 yields the next day
	next, err = p.NextRun(want)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}
	if !next.Equal(want.AddDate(0, 0, 1)) {
		t.Errorf("NextRun() = %v, want %v", next, want.AddDate(0, 0, 1))
	}
}

func TestMaxDuration(t *testing.T) {
	p := NewPolicy(1, KindLogical, "0 3 * * *")
	if p.MaxDuration() != 0 {
		t.Errorf("MaxDuration() = %v, want 0", p.MaxDuration())
	}

	secs := int64(3600)
	p.MaxDurationSec = &secs
	if p.MaxDuration() != time.Hour {
		t.Errorf("MaxDuration() = %v, want 1h", p.MaxDuration())
	}
}

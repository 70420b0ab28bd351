package dispatch

import (
	"context"
	"testing"
	"time"
)

func TestSweeperDeletesExpiredClaims(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	claims := newMemClaimStore()
	claims.claims["old"] = now.Add(-48 * time.Hour)
	claims.claims["fresh"] = now.Add(-time.Hour)

	sweeper := NewRetentionSweeper(claims, 24*time.Hour, 10*time.Minute)
	sweeper.Now = func() time.Time { return now }

	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if claims.deleted != 1 {
		t.Fatalf("deleted = %d, want the expired claim only", claims.deleted)
	}
	if _, exists := claims.claims["fresh"]; !exists {
		t.Fatal("fresh claim must survive")
	}
}

func TestSweeperEnforcesMinimumInterval(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	claims := newMemClaimStore()
	sweeper := NewRetentionSweeper(claims, 24*time.Hour, 10*time.Minute)
	sweeper.Now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if err := sweeper.Sweep(context.Background()); err != nil {
			t.Fatalf("Sweep %d: %v", i, err)
		}
	}
	if claims.sweeps != 1 {
		t.Fatalf("sweeps = %d, want repeated triggers coalesced into one", claims.sweeps)
	}

	now = now.Add(11 * time.Minute)
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep after interval: %v", err)
	}
	if claims.sweeps != 2 {
		t.Fatalf("sweeps = %d, want a second run after the interval", claims.sweeps)
	}
}

func TestSweeperNilClaimsIsNoop(t *testing.T) {
	sweeper := NewRetentionSweeper(nil, time.Hour, time.Minute)
	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
}

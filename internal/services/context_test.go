package services_test

import (
	"context"
	"testing"

	"tipline/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithTipID(ctx, "tip-42")
	ctx = services.WithJob(ctx, "delivery")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.TipIDFromContext(ctx); !ok || id != "tip-42" {
		t.Fatalf("unexpected tip id: %v %v", id, ok)
	}
	if job, ok := services.JobFromContext(ctx); !ok || job != "delivery" {
		t.Fatalf("unexpected job: %v %v", job, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestJobBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJob(ctx, "")
	if _, ok := services.JobFromContext(ctx); ok {
		t.Fatal("expected no job value")
	}
}

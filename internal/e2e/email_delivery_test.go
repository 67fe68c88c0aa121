package e2e

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/atlas-grants/atlas-grants/internal/jobs"
	"github.com/atlas-grants/atlas-grants/jobs"
)

type recordingSender struct {
	sent   []string
	failTo string
}

func (s *recordingSender) Send(_ context.Context, to, _, _ string) error {
	if to == s.failTo {
		return errors.New("relay refused")
	}
	s.sent = append(s.sent, to)
	return nil
}

func TestEmailDeliveryPipelineRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	sender := &recordingSender{failTo: "bounce@atlas.local"}
	job := jobs.NewSendEmailJob(sender, slog.New(slog.DiscardHandler), metrics)

	deliveries := []jobs.SendEmailPayload{
		{To: "frank@atlas.local", Subject: "Pending review", Body: "ACT-007 needs your review"},
		{To: "carla@atlas.local", Subject: "Pending review", Body: "ACT-007 needs your review"},
		{To: "bounce@atlas.local", Subject: "Pending review", Body: "ACT-007 needs your review"},
	}
	for _, payload := range deliveries {
		task, err := jobs.NewSendEmailTask(payload)
		if err != nil {
			t.Fatalf("build task: %v", err)
		}
		handleErr := job.Handle(t.Context(), task)
		if payload.To == sender.failTo {
			if handleErr == nil {
				t.Fatal("expected delivery failure to propagate for retry")
			}
		} else if handleErr != nil {
			t.Fatalf("unexpected delivery error: %v", handleErr)
		}
	}

	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(sender.sent))
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got := counterValue(t, families, "atlas_notification_emails_total", "status", "success"); got != 2 {
		t.Fatalf("expected 2 successful emails recorded, got %f", got)
	}
	if got := counterValue(t, families, "atlas_notification_emails_total", "status", "failure"); got != 1 {
		t.Fatalf("expected 1 failed email recorded, got %f", got)
	}
	if got := counterValue(t, families, "atlas_jobs_failures_total", "job", jobs.TaskTypeSendEmail); got != 1 {
		t.Fatalf("expected 1 job failure recorded, got %f", got)
	}
}

func counterValue(t *testing.T, families []*dto.MetricFamily, name, labelKey, labelValue string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == labelKey && lp.GetValue() == labelValue {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	t.Fatalf("counter %s{%s=%q} not found", name, labelKey, labelValue)
	return 0
}

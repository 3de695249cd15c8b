package observability

import (
	"testing"
	"time"

	"github.com/danmuck/botctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("keepalive", "GET", "/", 200, 3*time.Millisecond)
	RecordCommand("listbots", "ok", 12*time.Millisecond)
	RecordBotStart(true)
	RecordBotStart(false)
	RecordBotStop()
	RecordBotExit(0)
	RecordBotExit(-1)
	RecordBotExit(2)
	SetBotsRunning(3)

	if got := testutil.ToFloat64(botsRunning); got != 3 {
		t.Fatalf("unexpected running gauge: %v", got)
	}
}

func TestRecordBotExitOutcomes(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(botExits.WithLabelValues("signaled"))
	RecordBotExit(-1)
	after := testutil.ToFloat64(botExits.WithLabelValues("signaled"))
	if after-before != 1 {
		t.Fatalf("expected signaled exit counter to advance by one, got %v", after-before)
	}
}

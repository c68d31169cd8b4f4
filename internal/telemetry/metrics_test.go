package telemetry

import "testing"

func TestGetGlobalMetricsIsASingleton(t *testing.T) {
	a := GetGlobalMetrics()
	b := GetGlobalMetrics()
	if a != b {
		t.Error("expected GetGlobalMetrics to always return the same instance")
	}
}

func TestSettersRecordLatestValuePerKey(t *testing.T) {
	m := GetGlobalMetrics()

	m.SetUnrealizedPnL("bot-1", 12.5)
	m.SetUnrealizedPnL("bot-1", 7.5)
	if got := m.unrealizedPnLMap["bot-1"]; got != 7.5 {
		t.Errorf("expected the latest write to win, got %v", got)
	}

	m.SetBotsActive("FOOUSDT", 3)
	if got := m.botsActiveMap["FOOUSDT"]; got != 3 {
		t.Errorf("got %v", got)
	}

	m.SetProxyCooldown("proxy-1", true)
	if got := m.proxyCooldownMap["proxy-1"]; got != 1 {
		t.Errorf("expected cooling=true to record 1, got %v", got)
	}
	m.SetProxyCooldown("proxy-1", false)
	if got := m.proxyCooldownMap["proxy-1"]; got != 0 {
		t.Errorf("expected cooling=false to record 0, got %v", got)
	}

	m.SetFillQueueDepth("user-1:FOOUSDT", 4)
	if got := m.fillQueueDepthMap["user-1:FOOUSDT"]; got != 4 {
		t.Errorf("got %v", got)
	}
}

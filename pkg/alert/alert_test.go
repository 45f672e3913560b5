package alert

import "testing"

func TestBreachLevel(t *testing.T) {
	th := MetricThreshold{HighPercent: 80, CriticalPercent: 95}
	cases := []struct {
		value float64
		want  string
	}{
		{50, ""},
		{80, "high"},
		{94, "high"},
		{95, "critical"},
		{99, "critical"},
	}
	for _, c := range cases {
		if got := breachLevel(c.value, th); got != c.want {
			t.Errorf("breachLevel(%v) = %q, want %q", c.value, got, c.want)
		}
	}
}

func TestNotificationConfigCooldown(t *testing.T) {
	n := NotificationConfig{CriticalMinutes: 5, HighMinutes: 15}
	if n.cooldown("critical").Minutes() != 5 {
		t.Errorf("critical cooldown = %v", n.cooldown("critical"))
	}
	if n.cooldown("high").Minutes() != 15 {
		t.Errorf("high cooldown = %v", n.cooldown("high"))
	}
	if n.cooldown("low").Minutes() != 15 {
		t.Errorf("low cooldown should fall back to high's value, got %v", n.cooldown("low"))
	}
}

func TestNotificationConfigEnabledFor(t *testing.T) {
	n := NotificationConfig{NotifyOnCritical: true, NotifyOnHigh: false, NotifyOnMedium: true, NotifyOnLow: false}
	if !n.enabledFor("critical") {
		t.Error("expected critical enabled")
	}
	if n.enabledFor("high") {
		t.Error("expected high disabled")
	}
	if !n.enabledFor("medium") {
		t.Error("expected medium enabled")
	}
	if n.enabledFor("low") {
		t.Error("expected low disabled")
	}
}

func TestThresholdsForMetric(t *testing.T) {
	ths := Thresholds{CPU: MetricThreshold{HighPercent: 1}, Memory: MetricThreshold{HighPercent: 2}, Disk: MetricThreshold{HighPercent: 3}}
	if ths.forMetric("cpu").HighPercent != 1 {
		t.Error("cpu mismatch")
	}
	if ths.forMetric("disk").HighPercent != 3 {
		t.Error("disk mismatch")
	}
}

func TestMetricSampleValue(t *testing.T) {
	cpu := 42.0
	s := MetricSample{CPUPercent: &cpu}
	if v := s.value("cpu"); v == nil || *v != 42.0 {
		t.Errorf("expected cpu value 42.0, got %v", v)
	}
	if v := s.value("memory"); v != nil {
		t.Errorf("expected nil memory value, got %v", v)
	}
}

func TestTitleCase(t *testing.T) {
	if titleCase("cpu") != "Cpu" {
		t.Errorf("titleCase(cpu) = %q", titleCase("cpu"))
	}
	if titleCase("") != "" {
		t.Errorf("titleCase(empty) should stay empty")
	}
}

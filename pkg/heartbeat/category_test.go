package heartbeat

import "testing"

func TestInferMachineCategory(t *testing.T) {
	cases := []struct {
		cpu, arch, want string
	}{
		{"", "aarch64", "sbc"},
		{"", "arm64", "sbc"},
		{"Intel Xeon Gold 6230", "x86_64", "rack_server"},
		{"AMD EPYC 7302", "x86_64", "rack_server"},
		{"AMD Ryzen Threadripper 3970X", "x86_64", "workstation"},
		{"Intel Core i9-13900K", "x86_64", "workstation"},
		{"AMD Ryzen 9 7950X", "x86_64", "workstation"},
		{"Intel Core i5-12400", "x86_64", "office_desktop"},
		{"AMD Ryzen 5 5600", "x86_64", "office_desktop"},
		{"Intel Core i7-1260P", "x86_64", "office_laptop"},
		// The Ryzen 7/9 rule is checked before the mobile rule.
		{"AMD Ryzen 7 PRO 6850U", "x86_64", "workstation"},
		{"Apple M2", "arm64", "sbc"}, // ARM architecture wins before CPU model is consulted
		{"Intel N100", "x86_64", "mini_pc"},
		{"Intel Celeron N4020", "x86_64", "mini_pc"},
		{"Unknown CPU Model XYZ", "x86_64", ""},
	}
	for _, c := range cases {
		if got := InferMachineCategory(c.cpu, c.arch); got != c.want {
			t.Errorf("InferMachineCategory(%q, %q) = %q, want %q", c.cpu, c.arch, got, c.want)
		}
	}
}

func TestInferMachineCategoryAppleMobile(t *testing.T) {
	if got := InferMachineCategory("Apple M2", "arm64e"); got != "office_laptop" {
		t.Errorf("InferMachineCategory(Apple M2, non-arm-tagged arch) = %q, want office_laptop", got)
	}
}

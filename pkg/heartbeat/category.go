package heartbeat

import (
	"regexp"
	"strings"
)

var (
	armArch       = regexp.MustCompile(`(?i)^(aarch64|armv6l|armv7l|arm64)$`)
	mobileIntel   = regexp.MustCompile(`(?i)\b(i[3579])-\d+[UPHY]\b`)
	mobileAMDU    = regexp.MustCompile(`(?i)ryzen\s+\d+\s+\w*\s*U\b`)
	mobileAMDPro  = regexp.MustCompile(`(?i)ryzen\s+pro\s+\d+\s*U\b`)
	desktopIntel79 = regexp.MustCompile(`(?i)\bi[79]-\d{4,5}[A-Z]*\b`)
	desktopIntel35 = regexp.MustCompile(`(?i)\bi[35]-\d{4,5}[A-Z]*\b`)
	ryzen79        = regexp.MustCompile(`(?i)ryzen\s+[79]\b`)
	ryzen35        = regexp.MustCompile(`(?i)ryzen\s+[35]\b`)
	nSeries        = regexp.MustCompile(`(?i)\b[nN]\d{3,4}\b`)
)

// InferMachineCategory implements the deterministic rules of spec §6.3. It
// is applied only when machine_category_source != "user" and CPU info is
// present (spec §4.11 step 5).
func InferMachineCategory(cpuModel, architecture string) string {
	if armArch.MatchString(strings.TrimSpace(architecture)) {
		return "sbc"
	}

	model := cpuModel
	switch {
	case strings.Contains(model, "Xeon"), strings.Contains(model, "EPYC"):
		return "rack_server"
	case strings.Contains(model, "Threadripper"):
		return "workstation"
	case desktopIntel79.MatchString(model) && !mobileIntel.MatchString(model), ryzen79.MatchString(model):
		return "workstation"
	case desktopIntel35.MatchString(model) && !mobileIntel.MatchString(model), ryzen35.MatchString(model):
		return "office_desktop"
	case mobileIntel.MatchString(model), mobileAMDU.MatchString(model), mobileAMDPro.MatchString(model), strings.Contains(model, "Mobile"), strings.HasPrefix(model, "Apple M"):
		return "office_laptop"
	case nSeries.MatchString(model), strings.Contains(model, "Celeron"), strings.Contains(model, "Atom"), strings.Contains(model, "Pentium"):
		return "mini_pc"
	default:
		return ""
	}
}

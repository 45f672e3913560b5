package whitelist

import "testing"

func TestCheckRestartService(t *testing.T) {
	r := NewRegistry(nil)
	params, err := r.Check("restart_service", "systemctl restart nginx")
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if params["service_name"] != "nginx" {
		t.Errorf("params[service_name] = %q, want nginx", params["service_name"])
	}
}

func TestCheckRejectsMetacharacters(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Check("restart_service", "systemctl restart nginx; rm -rf /")
	if err == nil {
		t.Fatal("expected rejection for command with shell metacharacters")
	}
}

func TestCheckRejectsUnregisteredActionType(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Check("reboot_host", "reboot")
	if err == nil {
		t.Fatal("expected rejection for unregistered action type")
	}
}

func TestCheckRejectsInvalidServiceName(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Check("restart_service", "systemctl restart "+string(make([]byte, 100)))
	if err == nil {
		t.Fatal("expected rejection for over-length service name")
	}
}

func TestCheckFixedCommand(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Check("clear_logs", "journalctl --vacuum-time=2d"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if _, err := r.Check("clear_logs", "journalctl --vacuum-time=2d; rm -rf /"); err == nil {
		t.Fatal("expected rejection for tampered fixed command")
	}
}

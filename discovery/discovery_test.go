package discovery

import (
	"os"
	"testing"
	"time"
)

func TestTxtRecordsRoundTrip(t *testing.T) {
	props := Properties{Quality: 70, FPS: 15, OS: "Linux", Hostname: "workstation"}
	parsed := parseTxtRecords(props.txtRecords())
	if parsed != props {
		t.Errorf("Expected %+v, got %+v", props, parsed)
	}
}

func TestParseTxtRecordsDefaults(t *testing.T) {
	props := parseTxtRecords(nil)
	if props.Quality != 60 {
		t.Errorf("Expected default quality 60, got %d", props.Quality)
	}
	if props.FPS != 10 {
		t.Errorf("Expected default fps 10, got %d", props.FPS)
	}
	if props.OS != "Unknown" {
		t.Errorf("Expected default os Unknown, got %s", props.OS)
	}
}

func TestParseTxtRecordsIgnoresGarbage(t *testing.T) {
	props := parseTxtRecords([]string{"quality=abc", "fps", "unknown=1", "os=Darwin"})
	if props.Quality != 60 {
		t.Errorf("Expected unparsable quality to keep default, got %d", props.Quality)
	}
	if props.OS != "Darwin" {
		t.Errorf("Expected os Darwin, got %s", props.OS)
	}
}

func TestServiceCacheAddRemove(t *testing.T) {
	d := NewMDNS()
	d.services["first"] = Service{Name: "first"}
	d.order = []string{"first"}

	d.serviceRemoved("first")
	if len(d.snapshot()) != 0 {
		t.Error("Expected empty snapshot after removal")
	}
	// Removing an unknown name must be a no-op.
	d.serviceRemoved("never-seen")
}

func TestLocalIPNeverEmpty(t *testing.T) {
	if LocalIP() == "" {
		t.Error("Expected a fallback IP, got empty string")
	}
}

func TestDisabledFallback(t *testing.T) {
	var d Discovery = Disabled{}
	if err := d.Register("name", 5000, DefaultProperties()); err != nil {
		t.Error("Disabled registration must not fail:", err)
	}
	services, err := d.Discover(time.Millisecond)
	if err != nil {
		t.Error("Disabled discovery must not fail:", err)
	}
	if len(services) != 0 {
		t.Error("Disabled discovery must find nothing")
	}
	d.Close()
}

func TestCloseWithoutRegister(t *testing.T) {
	NewMDNS().Close()
}

// Loopback register-then-discover over real multicast. Requires a network
// namespace where mDNS actually works, so it stays opt-in.
func TestRegisterThenDiscoverLoopback(t *testing.T) {
	if os.Getenv("SCREENSHARE_MDNS_TEST") == "" {
		t.Skip("set SCREENSHARE_MDNS_TEST=1 to run the multicast loopback test")
	}
	producer := NewMDNS()
	defer producer.Close()
	props := Properties{Quality: 60, FPS: 10, OS: "Linux", Hostname: "loopback"}
	if err := producer.Register("loopback-test", 5000, props); err != nil {
		t.Fatal("Register failed:", err)
	}

	viewer := NewMDNS()
	defer viewer.Close()
	services, err := viewer.Discover(5 * time.Second)
	if err != nil {
		t.Fatal("Discover failed:", err)
	}
	for _, service := range services {
		if service.Name != "loopback-test" {
			continue
		}
		if service.Port != 5000 {
			t.Errorf("Expected port 5000, got %d", service.Port)
		}
		if service.Props.FPS != 10 {
			t.Errorf("Expected fps 10, got %d", service.Props.FPS)
		}
		if service.Props.Quality != 60 {
			t.Errorf("Expected quality 60, got %d", service.Props.Quality)
		}
		return
	}
	t.Fatalf("Registered service not found among %d discovered services", len(services))
}

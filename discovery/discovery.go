package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

// Producers advertise under this fixed service type; viewers browse for it.
const (
	ServiceType = "_screenshare._tcp"
	Domain      = "local."
)

// Properties is the advisory metadata carried in the service TXT records.
// Numeric values travel as decimal text on the wire.
type Properties struct {
	Quality  int
	FPS      int
	OS       string
	Hostname string
}

// DefaultProperties fills the values used when a TXT key is missing.
func DefaultProperties() Properties {
	return Properties{Quality: 60, FPS: 10, OS: "Unknown"}
}

func (p Properties) txtRecords() []string {
	return []string{
		"quality=" + strconv.Itoa(p.Quality),
		"fps=" + strconv.Itoa(p.FPS),
		"os=" + p.OS,
		"hostname=" + p.Hostname,
	}
}

func parseTxtRecords(txt []string) Properties {
	props := DefaultProperties()
	for _, record := range txt {
		key, value, found := cutRecord(record)
		if !found {
			continue
		}
		switch key {
		case "quality":
			if quality, err := strconv.Atoi(value); err == nil {
				props.Quality = quality
			}
		case "fps":
			if fps, err := strconv.Atoi(value); err == nil {
				props.FPS = fps
			}
		case "os":
			props.OS = value
		case "hostname":
			props.Hostname = value
		}
	}
	return props
}

func cutRecord(record string) (key, value string, found bool) {
	for i := 0; i < len(record); i++ {
		if record[i] == '=' {
			return record[:i], record[i+1:], true
		}
	}
	return record, "", false
}

// Service is one producer sighting collected during a browse window.
type Service struct {
	Name  string
	IP    string
	Port  int
	Props Properties
}

// Discovery is the pairing port. The mDNS implementation talks multicast;
// Disabled degrades to manual address entry when multicast is unavailable
// or unwanted.
type Discovery interface {
	Register(name string, port int, props Properties) error
	Discover(timeout time.Duration) ([]Service, error)
	Close()
}

// MDNS advertises and browses screen share producers over multicast DNS.
type MDNS struct {
	mu       sync.Mutex
	server   *zeroconf.Server
	services map[string]Service
	order    []string
}

func NewMDNS() *MDNS {
	return &MDNS{services: make(map[string]Service)}
}

// Register publishes a service record for this producer. Errors are meant
// to be non-fatal for the caller: a producer without an advertisement is
// still reachable by direct address.
func (d *MDNS) Register(name string, port int, props Properties) error {
	ip := LocalIP()
	server, err := zeroconf.RegisterProxy(name, ServiceType, Domain, port, name, []string{ip}, props.txtRecords(), nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	d.mu.Lock()
	d.server = server
	d.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"name": name,
		"addr": fmt.Sprintf("%s:%d", ip, port),
	}).Info("service advertised on the local network")
	return nil
}

// Discover browses for producers for the given duration and returns the
// collected records in discovery order. Goodbye packets (TTL 0) remove a
// record again before the window closes.
func (d *MDNS) Discover(timeout time.Duration) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			if entry.TTL == 0 {
				d.serviceRemoved(entry.Instance)
			} else {
				d.serviceAdded(entry)
			}
		}
	}()
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-ctx.Done()
	return d.snapshot(), nil
}

// serviceAdded and serviceRemoved run on the resolver's goroutine,
// concurrently with snapshot reads.
func (d *MDNS) serviceAdded(entry *zeroconf.ServiceEntry) {
	ip := "unknown"
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	}
	service := Service{
		Name:  entry.Instance,
		IP:    ip,
		Port:  entry.Port,
		Props: parseTxtRecords(entry.Text),
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, known := d.services[entry.Instance]; !known {
		d.order = append(d.order, entry.Instance)
	}
	d.services[entry.Instance] = service
	logrus.WithFields(logrus.Fields{
		"name": service.Name,
		"addr": fmt.Sprintf("%s:%d", service.IP, service.Port),
		"os":   service.Props.OS,
	}).Info("discovered screen share service")
}

func (d *MDNS) serviceRemoved(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, known := d.services[name]; !known {
		return
	}
	delete(d.services, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	logrus.WithField("name", name).Info("screen share service went offline")
}

func (d *MDNS) snapshot() []Service {
	d.mu.Lock()
	defer d.mu.Unlock()
	services := make([]Service, 0, len(d.order))
	for _, name := range d.order {
		services = append(services, d.services[name])
	}
	return services
}

// Close withdraws the advertisement if one is active. Safe to call when
// nothing was ever registered.
func (d *MDNS) Close() {
	d.mu.Lock()
	server := d.server
	d.server = nil
	d.mu.Unlock()
	if server != nil {
		server.Shutdown()
	}
}

// Disabled is the manual-addressing fallback: nothing is advertised and a
// browse finds nothing.
type Disabled struct{}

func (Disabled) Register(string, int, Properties) error { return nil }

func (Disabled) Discover(time.Duration) ([]Service, error) { return nil, nil }

func (Disabled) Close() {}

// LocalIP reports the LAN address of the outbound-facing interface. Dialing
// UDP never sends a packet; it only makes the OS pick a route.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

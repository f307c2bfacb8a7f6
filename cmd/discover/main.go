package main

import (
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"strzcam.com/screenshare/discovery"
)

// Network diagnostic: shows the local outbound IP and every screen share
// producer visible on the LAN, with a reachability probe per producer.
func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "discovery browse window")
	flag.Parse()

	fmt.Println("Screen share - network check")
	fmt.Println("----------------------------")
	fmt.Printf("Local IP: %s\n", discovery.LocalIP())
	fmt.Printf("OS:       %s\n\n", runtime.GOOS)

	disc := discovery.NewMDNS()
	defer disc.Close()

	fmt.Printf("Scanning for services (%s)...\n\n", *timeout)
	services, err := disc.Discover(*timeout)
	if err != nil {
		logrus.WithError(err).Fatal("discovery failed")
	}
	if len(services) == 0 {
		fmt.Println("No screen share services found.")
		fmt.Println("Make sure a server is running on the same network.")
		return
	}

	for i, service := range services {
		fmt.Printf("%d. %s\n", i+1, service.Name)
		fmt.Printf("   Address: %s:%d (%s)\n", service.IP, service.Port, probePort(service.IP, service.Port))
		fmt.Printf("   OS: %s, quality %d, %d fps\n\n",
			service.Props.OS, service.Props.Quality, service.Props.FPS)
	}
}

func probePort(ip string, port int) string {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", ip, port), time.Second)
	if err != nil {
		return "unreachable"
	}
	conn.Close()
	return "reachable"
}

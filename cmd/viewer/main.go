package main

import (
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"strzcam.com/screenshare/discovery"
	"strzcam.com/screenshare/viewer"
)

func main() {
	godotenv.Load()

	addr := flag.String("addr", "", "producer address; empty runs discovery")
	port := flag.Int("port", 5000, "producer port when --addr is set")
	timeout := flag.Duration("timeout", 5*time.Second, "discovery browse window")
	flag.Parse()

	target := ""
	if *addr != "" {
		target = fmt.Sprintf("%s:%d", *addr, *port)
	} else {
		target = pickProducer(*timeout)
	}

	consumer := viewer.New(target, &consoleSurface{})
	defer consumer.Close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		delay := consumer.Tick()
		select {
		case <-stop:
			logrus.Info("closing viewer")
			return
		case <-time.After(delay):
		}
	}
}

// pickProducer browses the LAN and asks for an explicit selection.
func pickProducer(timeout time.Duration) string {
	disc := discovery.NewMDNS()
	defer disc.Close()

	fmt.Printf("Scanning for screen share services (%s)...\n", timeout)
	services, err := disc.Discover(timeout)
	if err != nil {
		logrus.WithError(err).Fatal("discovery failed, connect with --addr instead")
	}
	if len(services) == 0 {
		logrus.Fatal("no screen share services found, connect with --addr instead")
	}

	for i, service := range services {
		fmt.Printf("%d. %s (%s:%d) - %s, quality %d, %d fps\n",
			i+1, service.Name, service.IP, service.Port,
			service.Props.OS, service.Props.Quality, service.Props.FPS)
	}
	fmt.Print("Connect to: ")
	choice := 0
	if _, err := fmt.Scanln(&choice); err != nil || choice < 1 || choice > len(services) {
		logrus.Fatal("invalid selection")
	}
	selected := services[choice-1]
	return fmt.Sprintf("%s:%d", selected.IP, selected.Port)
}

// consoleSurface is the headless presentation surface: status transitions
// and a once-per-second frame line instead of pixels.
type consoleSurface struct {
	lastStatus string
	frames     int
	lastReport time.Time
}

func (s *consoleSurface) Render(img image.Image, frameBytes int) {
	s.frames++
	if s.lastReport.IsZero() {
		s.lastReport = time.Now()
		return
	}
	elapsed := time.Since(s.lastReport)
	if elapsed >= time.Second {
		bounds := img.Bounds()
		logrus.WithFields(logrus.Fields{
			"resolution": fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
			"fps":        fmt.Sprintf("%.1f", float64(s.frames)/elapsed.Seconds()),
			"frame_kb":   fmt.Sprintf("%.1f", float64(frameBytes)/1024),
		}).Info("streaming")
		s.frames = 0
		s.lastReport = time.Now()
	}
}

func (s *consoleSurface) SetStatus(status string) {
	if status == s.lastStatus {
		return
	}
	s.lastStatus = status
	logrus.WithField("status", status).Info("connection state")
}

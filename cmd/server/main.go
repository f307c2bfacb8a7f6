package main

import (
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"strzcam.com/screenshare/capture"
	"strzcam.com/screenshare/discovery"
	"strzcam.com/screenshare/hub"
	"strzcam.com/screenshare/preview"
)

func main() {
	godotenv.Load()

	addr := flag.String("addr", "0.0.0.0", "bind address")
	port := flag.Int("port", 5000, "listen port")
	quality := flag.Int("quality", 60, "JPEG quality (1-100)")
	fps := flag.Int("fps", 10, "target frame rate")
	maxWidth := flag.Int("max-width", capture.MaxWidth, "downscale frames wider than this")
	display := flag.Int("display", 0, "display index to capture")
	shmName := flag.String("shm", "", "read frames from /dev/shm/<name> instead of capturing")
	previewAddr := flag.String("preview", "", "serve an HTTP preview on this address, e.g. :8080")
	name := flag.String("name", defaultName(), "advertised service name")
	noAnnounce := flag.Bool("no-announce", false, "skip the mDNS advertisement")
	flag.Parse()

	var source hub.Source
	if *shmName != "" {
		shmSource, err := capture.NewSharedMemorySource(*shmName)
		if err != nil {
			logrus.WithError(err).Fatal("opening shared memory source")
		}
		source = shmSource
	} else {
		source = capture.NewPipeline(capture.NewScreenCapturer(*display), *quality, *maxWidth)
	}

	h := hub.New(source, *fps)
	if err := h.Start(*addr, *port); err != nil {
		logrus.WithError(err).Fatal("starting screen share server")
	}
	logrus.WithFields(logrus.Fields{
		"quality": *quality,
		"fps":     *fps,
	}).Info("screen share server running")

	var disc discovery.Discovery = discovery.NewMDNS()
	if *noAnnounce {
		disc = discovery.Disabled{}
	}
	props := discovery.Properties{
		Quality:  *quality,
		FPS:      *fps,
		OS:       runtime.GOOS,
		Hostname: *name,
	}
	if err := disc.Register(*name, *port, props); err != nil {
		// Not fatal: viewers can still connect by direct address.
		logrus.WithError(err).Warn("service registration failed")
	}

	if *previewAddr != "" {
		previewServer := preview.NewServer(h.Tap())
		go previewServer.Run()
		go func() {
			if err := http.ListenAndServe(*previewAddr, previewServer.Handler()); err != nil {
				logrus.WithError(err).Error("preview server")
			}
		}()
		logrus.WithField("addr", *previewAddr).Info("preview available")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logrus.Info("shutting down")
	disc.Close()
	h.Stop()
}

func defaultName() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "screenshare"
	}
	return hostname
}

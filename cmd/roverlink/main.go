// Command roverlink runs the tablet-side controller for the arena rover: it
// keeps the Bluetooth RFCOMM link to the robot alive, maintains the arena
// model, and serves the HTTP API the tablet UI drives.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/arena-rover/roverlink/internal/api"
	"github.com/arena-rover/roverlink/internal/console"
	"github.com/arena-rover/roverlink/internal/link"
	"github.com/arena-rover/roverlink/internal/planner"
	"github.com/arena-rover/roverlink/internal/store"
	"github.com/arena-rover/roverlink/internal/transport"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	devMode    = flag.Bool("dev", false, "Run in dev mode against scripted fixture traffic")
	fixture    = flag.String("fixture", "", "Fixture file for dev mode, one message per line")
	device     = flag.String("device", "", "BlueZ device object path of the robot (e.g. /org/bluez/hci0/dev_XX_...)")
	peerName   = flag.String("peer-name", "", "Display name for the robot device")
	tty        = flag.String("tty", "", "Serial device path for a tty-bound RFCOMM link (overrides -device)")
	baud       = flag.Int("baud", 115200, "Baud rate for the serial link")
	dbFile     = flag.String("db", "layouts.db", "Path to the layout database")
	plannerURL = flag.String("planner", "", "Base URL of the pathfinding service (empty disables planning)")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	dialer, peer := buildDialer()

	supervisor := link.NewSupervisor(dialer, link.SupervisorOptions{})

	var pathFinder console.PathFinder
	if *plannerURL != "" {
		pathFinder = planner.NewClient(*plannerURL, nil)
	}
	controller := console.NewController(supervisor, console.Options{Planner: pathFinder})

	st, err := store.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to open layout database: %v", err)
	}
	defer st.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// decode loop: inbound link traffic into the arena model
	wg.Add(1)
	go func() {
		defer wg.Done()
		controller.Run(ctx)
		log.Print("console routine terminated")
	}()

	// log connection state changes as they happen
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := supervisor.Status().Watch()
		defer supervisor.Status().Unwatch(id)
		for {
			select {
			case state := <-c:
				log.Printf("link state: %s (peer %s)", state.Phase, state.Peer)
			case <-ctx.Done():
				return
			}
		}
	}()

	if peer.Handle != "" {
		supervisor.Connect(peer)
	} else {
		log.Print("no device configured; waiting for /api/connect")
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// admin debugging routes (database console, link tail)
		if err := st.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach admin routes: %v", err)
			stop()
			return
		}

		apiServer := api.NewServer(controller, supervisor, st, peer)
		apiServer.AttachDebugRoutes(mux)
		mux.Handle("/api/", apiServer.ServeMux())

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		// a server failure cancels the signal context so the rest of the
		// process tears down cleanly instead of exiting mid-flight
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("HTTP server failed: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	<-ctx.Done()
	supervisor.Disconnect()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// buildDialer picks the transport from the flags: fixture replay in dev
// mode, a plain serial port when -tty is set, BlueZ RFCOMM otherwise.
func buildDialer() (link.Dialer, link.Peer) {
	if *devMode {
		script := transport.DefaultFixtureScript
		if *fixture != "" {
			data, err := os.ReadFile(*fixture)
			if err != nil {
				log.Fatalf("failed to open fixture file: %v", err)
			}
			script = nil
			for _, line := range strings.Split(string(data), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					script = append(script, line)
				}
			}
		}
		return &transport.FixtureDialer{Script: script}, link.Peer{Handle: "fixture", Name: "fixture"}
	}

	if *tty != "" {
		d := &transport.SerialDialer{Options: transport.PortOptions{BaudRate: *baud}}
		return d, link.Peer{Handle: *tty, Name: *peerName}
	}

	name := *peerName
	if name == "" && *device != "" {
		name = transport.MACFromDevicePath(*device)
	}
	return transport.NewBlueZDialer(), link.Peer{Handle: *device, Name: name}
}

//go:build windows

// Command anyfast-service is the privileged Windows service that owns
// direct hosts-file access and serves it to the unprivileged core process
// over a named pipe (spec §4.2 mechanism 1, internal/pipesvc).
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/debug"
	"golang.org/x/sys/windows/svc/eventlog"

	"github.com/anyfast/anyfast-core/internal/hostsio"
	"github.com/anyfast/anyfast-core/internal/pipesvc"
)

const serviceName = "AnyFastHostsService"

func main() {
	isInteractive, err := svc.IsAnInteractiveSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: determine session type: %v\n", err)
		os.Exit(1)
	}

	run := svc.Run
	if isInteractive {
		run = debug.Run
	}

	if err := run(serviceName, &hostsService{}); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: service failed: %v\n", err)
		os.Exit(1)
	}
}

// hostsService implements svc.Handler, bridging the Windows service control
// manager to the pipesvc.Server lifecycle.
type hostsService struct{}

func (h *hostsService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	elog, err := eventlog.Open(serviceName)
	if err == nil {
		defer elog.Close()
	}

	changes <- svc.Status{State: svc.StartPending}

	dispatcher := &pipesvc.Dispatcher{Hosts: hostsio.New()}
	server := &pipesvc.Server{Dispatcher: dispatcher}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- server.Serve(ctx)
	}()

	changes <- svc.Status{State: svc.Running, Accepts: svc.AcceptStop | svc.AcceptShutdown}
	if elog != nil {
		elog.Info(1, serviceName+" started")
	}

	for {
		select {
		case err := <-serveErrCh:
			if err != nil && elog != nil {
				elog.Error(1, fmt.Sprintf("pipe server stopped: %v", err))
			}
			changes <- svc.Status{State: svc.StopPending}
			return false, 0

		case req := <-r:
			switch req.Cmd {
			case svc.Interrogate:
				changes <- req.CurrentStatus
			case svc.Stop, svc.Shutdown:
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				<-serveErrCh
				log.Println(serviceName + " stopped")
				return false, 0
			}
		}
	}
}

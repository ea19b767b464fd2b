// Command echoserver runs a reactor-based TCP echo server, wiring
// config-driven thread count and demultiplexer choice together with
// structured logging, in the style of the original's examples/echo server.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/vczn/asuka/config"
	"github.com/vczn/asuka/internal/obs"
	"github.com/vczn/asuka/reactor"
)

var configPath = flag.String("config", "echoserver.conf", "path to the key = value config file")

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load(*configPath)
	if err != nil {
		obs.Warnf("using defaults: %v", err)
		cfg = &config.Config{Port: 9981, Threads: 4, UseEpoll: true}
	}

	readyCh := make(chan *reactor.EventLoop, 1)
	go func() {
		loop := reactor.NewEventLoop(cfg.UseEpoll)
		readyCh <- loop
		loop.Loop()
		loop.Close()
	}()
	loop := <-readyCh

	local := reactor.NewEndpoint(cfg.Port, false)
	var server *reactor.TcpServer
	loop.RunInLoop(func() {
		server = reactor.NewTcpServer(loop, "echo", local, cfg.UseEpoll)
		server.SetConnectionCallback(func(conn *reactor.TcpConnection) {
			if conn.Connected() {
				obs.Infof("connection up: %s (%s -> %s)", conn.Name(), conn.PeerAddress(), conn.LocalAddress())
			} else {
				obs.Infof("connection down: %s", conn.Name())
			}
		})
		server.SetMessageCallback(func(conn *reactor.TcpConnection, buf *reactor.Buffer, _ time.Time) {
			conn.Send([]byte(buf.RetrieveAllAsString()))
		})
		if err := server.Start(cfg.Threads); err != nil {
			obs.Fatalf("server.Start: %v", err)
		}
	})

	stop, err := config.WatchReload(*configPath, loop, func(c *config.Config) {
		obs.Infof("config reload observed (threads=%d use_epoll=%v); restart to apply", c.Threads, c.UseEpoll)
	})
	if err == nil {
		defer stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	loop.Quit()
}

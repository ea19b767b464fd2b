// Command echoclient connects to a reactor echo server, sends lines typed
// on stdin, and prints whatever comes back, demonstrating TcpClient's
// reconnect-on-close behavior.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/vczn/asuka/internal/obs"
	"github.com/vczn/asuka/reactor"
)

var (
	host  = flag.String("host", "127.0.0.1", "server address")
	port  = flag.Uint("port", 9981, "server port")
	retry = flag.Bool("retry", true, "reconnect automatically if the server drops the connection")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	peer, err := reactor.ParseEndpoint(*host, uint16(*port))
	if err != nil {
		obs.Fatalf("bad address: %v", err)
	}

	readyCh := make(chan *reactor.EventLoop, 1)
	go func() {
		loop := reactor.NewEventLoop(true)
		readyCh <- loop
		loop.Loop()
		loop.Close()
	}()
	loop := <-readyCh

	connectedCh := make(chan *reactor.TcpConnection, 1)
	var client *reactor.TcpClient
	loop.RunInLoop(func() {
		client = reactor.NewTcpClient(loop, "echo-client", peer)
		client.SetRetry(*retry)
		client.SetConnectionCallback(func(conn *reactor.TcpConnection) {
			if conn.Connected() {
				obs.Infof("connected to %s", conn.PeerAddress())
				connectedCh <- conn
			} else {
				obs.Infof("disconnected from %s", conn.PeerAddress())
			}
		})
		client.SetMessageCallback(func(_ *reactor.TcpConnection, buf *reactor.Buffer, _ time.Time) {
			fmt.Printf("echo: %s", buf.RetrieveAllAsString())
		})
		client.Connect()
	})

	conn := <-connectedCh
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		conn = client.Connection()
		if conn == nil {
			obs.Warn("not connected, dropping line")
			continue
		}
		conn.SendString(scanner.Text() + "\n")
	}

	client.Disconnect()
	loop.Quit()
}

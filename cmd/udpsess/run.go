package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/udpsess/internal/config"
	"github.com/1ureka/udpsess/internal/conn"
	"github.com/1ureka/udpsess/internal/protocol"
	"github.com/1ureka/udpsess/internal/server"
	"github.com/1ureka/udpsess/internal/signaling"
	"github.com/1ureka/udpsess/internal/transport"
	"github.com/1ureka/udpsess/internal/util"
)

// runServer accepts sessions and echoes every payload until ctx ends.
func runServer(ctx context.Context, cfg config.Config) error {
	var (
		tr   transport.Transport
		done <-chan struct{}
	)

	switch cfg.Transport {
	case config.TransportWebRTC:
		link, err := signaling.EstablishAsHost(ctx, cfg.WS, cfg.ConnConfig())
		if err != nil {
			return fmt.Errorf("failed to establish link: %w", err)
		}
		tr, done = link, link.Done()
	default:
		udp, err := transport.ListenUDP(cfg.Addr)
		if err != nil {
			return err
		}
		tr = udp
	}
	defer tr.Close()

	h := newEchoHandler(cfg.SendTimeout)
	defer h.stop()

	srv := server.New(tr, cfg.ServerConfig(), h)
	srv.Start()
	defer srv.Stop()

	util.StartStatsReporter(ctx, cfg.StatsInterval)
	util.LogSuccess("echo server listening on %s", tr.LocalAddr())

	select {
	case <-ctx.Done():
	case <-done:
		util.LogWarning("link closed by the remote side")
	}
	return nil
}

// runClient connects, sends stdin lines and prints replies.
func runClient(ctx context.Context, cfg config.Config) error {
	var (
		tr     transport.Transport
		remote net.Addr
		timing = cfg.ConnConfig()
	)

	switch cfg.Transport {
	case config.TransportWebRTC:
		// Run with the host's timing.
		link, hostTiming, err := signaling.EstablishAsClient(ctx, cfg.WS)
		if err != nil {
			return fmt.Errorf("failed to establish link: %w", err)
		}
		tr, remote, timing = link, link.RemoteAddr(), hostTiming
	default:
		udp, err := transport.ListenUDP(":0")
		if err != nil {
			return err
		}
		tr = udp
		if remote, err = transport.ResolveUDP(cfg.Addr); err != nil {
			udp.Close()
			return err
		}
	}
	defer tr.Close()

	c := conn.New(tr, timing)
	c.Start()
	defer c.Stop()

	if err := c.Connect(remote, cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("connect to %s: %w", remote, err)
	}
	defer c.Close()

	util.StartStatsReporter(ctx, cfg.StatsInterval)
	util.LogSuccess("session %d established, type lines to send", c.SessionID())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go printReplies(ctx, cancel, c)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Send([]byte(line), cfg.SendTimeout); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

// printReplies prints every received payload until the session ends.
func printReplies(ctx context.Context, cancel context.CancelFunc, c *conn.Conn) {
	defer cancel()

	buf := make([]byte, protocol.MaxPayloadSize)
	for ctx.Err() == nil {
		n, err := c.Recv(buf, time.Second)
		switch {
		case errors.Is(err, protocol.ErrTimeout):
			continue
		case err != nil:
			util.LogWarning("receive stopped: %v", err)
			return
		}
		pterm.Println(pterm.Green("< ") + string(buf[:n]))
	}
}

// echoJob is one payload waiting to be sent back.
type echoJob struct {
	peer    *server.Peer
	payload []byte
}

// echoHandler queues payloads for a worker goroutine, so the server's read
// loop never waits on an ACK it has to process itself.
type echoHandler struct {
	jobs    chan echoJob
	done    chan struct{}
	timeout time.Duration
}

func newEchoHandler(timeout time.Duration) *echoHandler {
	h := &echoHandler{
		jobs:    make(chan echoJob, 64),
		done:    make(chan struct{}),
		timeout: timeout,
	}
	go h.work()
	return h
}

func (h *echoHandler) OnConnect(p *server.Peer) {
	util.LogSuccess("peer %s connected (session %d)", p.Addr(), p.SessionID())
}

func (h *echoHandler) OnPacket(p *server.Peer, payload []byte) {
	select {
	case h.jobs <- echoJob{peer: p, payload: payload}:
	default:
		util.LogWarning("echo queue full, dropping %d bytes from %s", len(payload), p.Addr())
	}
}

func (h *echoHandler) OnDisconnect(p *server.Peer, reason string) {
	util.LogInfo("peer %s disconnected: %s", p.Addr(), reason)
}

func (h *echoHandler) work() {
	for {
		select {
		case job := <-h.jobs:
			if err := job.peer.Send(job.payload, h.timeout); err != nil {
				util.LogDebug("echo to %s failed: %v", job.peer.Addr(), err)
			}
		case <-h.done:
			return
		}
	}
}

func (h *echoHandler) stop() { close(h.done) }

// Copyright 2025 mcbridge contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package relay implements the public side of the tunnel: it accepts game
// clients on one port and a single agent control link on another, and
// multiplexes the client streams over the control link using the frame
// protocol.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mcbridge/mcbridge/api"
	"github.com/mcbridge/mcbridge/protocol"
	"github.com/mcbridge/mcbridge/services/relay/httpserver"
)

var log = logrus.WithField("component", "relay")

type Options struct {
	// ClientPort is the public port game clients connect to
	ClientPort uint
	// AgentPort is the port the agent dials its control link to
	AgentPort uint
	// StatusPort serves the status and metrics HTTP API, 0 disables it
	StatusPort uint
	// AgentReadTimeout drops a silent control link, 0 disables the check.
	// The agent pings well within this window.
	AgentReadTimeout time.Duration

	// Custom listeners take precedence over the ports above, they are
	// mainly useful for tests
	CustomClientListener net.Listener
	CustomAgentListener  net.Listener
	CustomStatusListener net.Listener
}

var DefaultOptions = Options{
	ClientPort:       25566,
	AgentPort:        12345,
	StatusPort:       8780,
	AgentReadTimeout: 90 * time.Second,
}

type agentLink struct {
	conn   net.Conn
	writer *protocol.Writer
}

type server struct {
	options  Options
	registry *registry

	mu    sync.Mutex
	agent *agentLink
}

// Run starts the relay and blocks until the context is cancelled or a
// listener fails. A cancelled context is reported as context.Canceled.
func Run(ctx context.Context, options Options) error {
	s := &server{options: options, registry: newRegistry()}

	clientListener, err := listenerFor(options.CustomClientListener, options.ClientPort, "client")
	if err != nil {
		return err
	}
	defer clientListener.Close()

	agentListener, err := listenerFor(options.CustomAgentListener, options.AgentPort, "agent")
	if err != nil {
		return err
	}
	defer agentListener.Close()

	// every listener must be bound before any accept loop starts
	var statusListener net.Listener
	if options.CustomStatusListener != nil || options.StatusPort > 0 {
		statusListener, err = listenerFor(options.CustomStatusListener, options.StatusPort, "status")
		if err != nil {
			return err
		}
		defer statusListener.Close()
	}

	log.WithFields(logrus.Fields{
		"client_addr": clientListener.Addr().String(),
		"agent_addr":  agentListener.Addr().String(),
	}).Info("listening")

	eg, ctx := errgroup.WithContext(ctx)

	stop := context.AfterFunc(ctx, func() {
		clientListener.Close()
		agentListener.Close()
	})
	defer stop()

	eg.Go(func() error {
		return s.acceptLoop(ctx, clientListener, "client", s.handleClient)
	})
	eg.Go(func() error {
		return s.acceptLoop(ctx, agentListener, "agent", s.handleAgent)
	})

	if statusListener != nil {
		log.WithField("status_addr", statusListener.Addr().String()).Info("status API enabled")
		statusServer := httpserver.New(s)
		eg.Go(func() error {
			return statusServer.RunWithListener(ctx, statusListener)
		})
	}

	return eg.Wait()
}

func listenerFor(custom net.Listener, port uint, kind string) (net.Listener, error) {
	if custom != nil {
		return custom, nil
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("unable to listen on %s port %d: %w", kind, port, err)
	}
	return listener, nil
}

func (s *server) acceptLoop(
	ctx context.Context,
	listener net.Listener,
	kind string,
	handler func(ctx context.Context, conn net.Conn),
) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accepting %s connection: %w", kind, err)
		}
		go handler(ctx, conn)
	}
}

func (s *server) currentAgent() *agentLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

func (s *server) swapAgent(link *agentLink) *agentLink {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.agent
	s.agent = link
	return previous
}

// clearAgent detaches link if it is still the active one. A link replaced
// by a newer agent must not clear its successor.
func (s *server) clearAgent(link *agentLink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent != link {
		return false
	}
	s.agent = nil
	return true
}

func (s *server) handleClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c := s.registry.register(conn)
	activeClientsGauge.Inc()
	clientLog := log.WithField("uid", c.uid)
	clientLog.WithField("remote_addr", conn.RemoteAddr().String()).Info("client connected")

	if link := s.currentAgent(); link != nil {
		if err := link.writer.WriteFrame(c.uid, protocol.NewClient, nil); err != nil {
			clientLog.WithError(err).Warn("unable to announce the client to the agent")
		}
	} else {
		clientLog.Warn("no agent attached, client data will be dropped")
	}

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.bytesIn.Add(uint64(n))
			forwardedBytes.WithLabelValues(directionClientToAgent).Add(float64(n))
			if link := s.currentAgent(); link != nil {
				if writeErr := link.writer.WriteFrame(c.uid, protocol.Data, buf[:n]); writeErr != nil {
					clientLog.WithError(writeErr).Debug("control link write failed, data dropped")
				}
			} else {
				clientLog.Debug("no agent attached, data dropped")
			}
		}
		if err != nil {
			break
		}
	}

	s.registry.unregister(c.uid)
	activeClientsGauge.Dec()
	clientLog.Info("client disconnected")

	if link := s.currentAgent(); link != nil {
		_ = link.writer.WriteFrame(c.uid, protocol.Disconnect, nil)
	}
}

func (s *server) handleAgent(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	link := &agentLink{conn: conn, writer: protocol.NewWriter(conn)}
	if previous := s.swapAgent(link); previous != nil {
		log.Warn("a new agent attached, closing the previous control link")
		previous.conn.Close()
	}
	agentAttachedGauge.Set(1)
	agentLog := log.WithField("agent_addr", conn.RemoteAddr().String())
	agentLog.Info("agent attached")

	for {
		if s.options.AgentReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.options.AgentReadTimeout))
		}
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				agentLog.WithError(err).Warn("control link read failed")
			}
			break
		}

		switch frame.Type {
		case protocol.Data:
			if c, ok := s.registry.get(frame.UID); ok {
				if _, err := c.conn.Write(frame.Payload); err == nil {
					c.bytesOut.Add(uint64(len(frame.Payload)))
					forwardedBytes.WithLabelValues(directionAgentToClient).Add(float64(len(frame.Payload)))
				}
			}
		case protocol.Disconnect:
			// closing the connection makes the client handler unregister
			// and notify back, the agent tolerates the echo
			if c, ok := s.registry.get(frame.UID); ok {
				c.conn.Close()
			}
		case protocol.Ping:
			_ = link.writer.WriteFrame(frame.UID, protocol.Ping, nil)
		default:
			agentLog.WithField("type", frame.Type.String()).Warn("unexpected frame on the control link")
		}
	}

	if s.clearAgent(link) {
		agentAttachedGauge.Set(0)
		agentLog.Info("agent detached")
	}
}

// Status implements httpserver.StatusProvider.
func (s *server) Status() api.RelayStatus {
	status := api.RelayStatus{
		Clients: s.registry.snapshot(),
	}
	if link := s.currentAgent(); link != nil {
		status.AgentAttached = true
		status.AgentAddr = link.conn.RemoteAddr().String()
	}
	for _, c := range status.Clients {
		status.TotalBytesIn += c.BytesIn
		status.TotalBytesOut += c.BytesOut
	}
	return status
}

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

// Package agent implements the NAT side of the tunnel: it dials the relay's
// control link and opens one connection to the target server per announced
// client, bridging the two with the frame protocol.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/mcbridge/mcbridge/protocol"
	"github.com/mcbridge/mcbridge/utils"
	"github.com/mcbridge/mcbridge/utils/endpoint"
)

var log = logrus.WithField("component", "agent")

type Options struct {
	// RelayEndpoint is the relay's control port
	RelayEndpoint endpoint.Endpoint
	// TargetEndpoint is the local server the tunnel leads to
	TargetEndpoint endpoint.Endpoint
	// DialTimeout applies to both the relay and the target dials
	DialTimeout time.Duration
	// KeepaliveInterval paces the pings sent on the control link, the
	// link's read deadline is 3 times this interval
	KeepaliveInterval time.Duration
	// ReconnectInitialInterval and ReconnectMaxInterval bound the
	// exponential backoff between control link attempts
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration

	// Ready, when non nil, fires once the control link first attaches
	Ready *utils.SingleEvent
}

var DefaultOptions = Options{
	RelayEndpoint:            endpoint.New("127.0.0.1", 12345),
	TargetEndpoint:           endpoint.New("127.0.0.1", 25565),
	DialTimeout:              10 * time.Second,
	KeepaliveInterval:        30 * time.Second,
	ReconnectInitialInterval: time.Second,
	ReconnectMaxInterval:     30 * time.Second,
}

// Run keeps a control link to the relay attached until the context is
// cancelled, redialing with exponential backoff whenever the link fails.
// A cancelled context is reported as context.Canceled.
func Run(ctx context.Context, options Options) error {
	if !options.RelayEndpoint.IsValid() {
		return fmt.Errorf("invalid relay endpoint")
	}
	if !options.TargetEndpoint.IsValid() {
		return fmt.Errorf("invalid target endpoint")
	}
	if options.KeepaliveInterval <= 0 {
		return fmt.Errorf("keepalive interval must be positive")
	}
	if options.ReconnectInitialInterval <= 0 || options.ReconnectMaxInterval <= 0 {
		return fmt.Errorf("reconnect intervals must be positive")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = options.ReconnectInitialInterval
	bo.MaxInterval = options.ReconnectMaxInterval
	bo.MaxElapsedTime = 0 // never give up, only cancellation stops the agent

	for {
		attachedAt := time.Now()
		err := runControlLink(ctx, options)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// a link that held for a while resets the backoff
		if time.Since(attachedAt) > options.ReconnectMaxInterval {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		log.WithError(err).WithField("retry_in", wait.String()).Warn("control link lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

type controlLink struct {
	options  Options
	writer   *protocol.Writer
	sessions *sessionTable
}

func runControlLink(ctx context.Context, options Options) error {
	dialer := net.Dialer{Timeout: options.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", options.RelayEndpoint.String())
	if err != nil {
		return fmt.Errorf("dialing relay %s: %w", options.RelayEndpoint.String(), err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.WithField("relay", options.RelayEndpoint.String()).Info("control link attached")
	if options.Ready != nil {
		options.Ready.Set()
	}

	link := &controlLink{
		options:  options,
		writer:   protocol.NewWriter(conn),
		sessions: newSessionTable(),
	}
	defer link.sessions.closeAll()

	linkCtx, cancelLink := context.WithCancel(ctx)
	defer cancelLink()

	pingerDone := make(chan struct{})
	go func() {
		defer close(pingerDone)
		link.keepalive(linkCtx)
	}()
	defer func() {
		cancelLink()
		<-pingerDone
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * options.KeepaliveInterval))
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("relay closed the control link")
			}
			return fmt.Errorf("control link read failed: %w", err)
		}

		switch frame.Type {
		case protocol.NewClient:
			link.openSession(linkCtx, frame.UID)
		case protocol.Data:
			if sess, ok := link.sessions.get(frame.UID); ok {
				if _, err := sess.conn.Write(frame.Payload); err != nil {
					log.WithField("uid", frame.UID).WithError(err).Warn("target write failed")
				}
			} else {
				log.WithField("uid", frame.UID).Warn("data for an unknown session, dropped")
			}
		case protocol.Disconnect:
			link.closeSession(frame.UID)
		case protocol.Ping:
			// any inbound frame already extended the read deadline
		default:
			log.WithField("type", frame.Type.String()).Warn("unexpected frame on the control link")
		}
	}
}

func (link *controlLink) keepalive(ctx context.Context) {
	ticker := time.NewTicker(link.options.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := link.writer.WriteFrame(0, protocol.Ping, nil); err != nil {
				return
			}
		}
	}
}

func (link *controlLink) openSession(ctx context.Context, uid uint32) {
	sessionLog := log.WithField("uid", uid)
	if _, ok := link.sessions.get(uid); ok {
		sessionLog.Warn("session already open")
		return
	}

	dialer := net.Dialer{Timeout: link.options.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", link.options.TargetEndpoint.String())
	if err != nil {
		sessionLog.WithError(err).Error("unable to connect to the target server")
		return
	}

	sess := &session{uid: uid, conn: conn}
	link.sessions.add(sess)
	sessionLog.WithField("target", link.options.TargetEndpoint.String()).Info("session opened")

	go link.pumpUpstream(ctx, sess, sessionLog)
}

// pumpUpstream forwards target server bytes to the relay until the target
// or the control link goes away.
func (link *controlLink) pumpUpstream(ctx context.Context, sess *session, sessionLog *logrus.Entry) {
	defer sess.conn.Close()
	stop := context.AfterFunc(ctx, func() { sess.conn.Close() })
	defer stop()

	buf := make([]byte, 4096)
	for {
		n, err := sess.conn.Read(buf)
		if n > 0 {
			if writeErr := link.writer.WriteFrame(sess.uid, protocol.Data, buf[:n]); writeErr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}

	if link.sessions.remove(sess.uid) && !sess.closedByRelay.Load() {
		_ = link.writer.WriteFrame(sess.uid, protocol.Disconnect, nil)
	}
	sessionLog.Info("session closed")
}

func (link *controlLink) closeSession(uid uint32) {
	if sess, ok := link.sessions.get(uid); ok {
		sess.closedByRelay.Store(true)
		sess.conn.Close()
	}
}

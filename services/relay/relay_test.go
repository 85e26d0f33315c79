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

package relay

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbridge/mcbridge/api"
	"github.com/mcbridge/mcbridge/protocol"
	"github.com/mcbridge/mcbridge/services/agent"
	"github.com/mcbridge/mcbridge/utils"
	"github.com/mcbridge/mcbridge/utils/endpoint"
)

type testRelay struct {
	clientAddr string
	statusURL  string
	agentPort  uint16
	done       chan error
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return listener
}

func startRelay(t *testing.T, ctx context.Context) *testRelay {
	return startRelayTimeout(t, ctx, 5*time.Second)
}

func startRelayTimeout(t *testing.T, ctx context.Context, agentReadTimeout time.Duration) *testRelay {
	t.Helper()

	clientListener := listen(t)
	agentListener := listen(t)
	statusListener := listen(t)

	options := DefaultOptions
	options.AgentReadTimeout = agentReadTimeout
	options.CustomClientListener = clientListener
	options.CustomAgentListener = agentListener
	options.CustomStatusListener = statusListener

	_, agentPortStr, err := net.SplitHostPort(agentListener.Addr().String())
	require.NoError(t, err)
	agentPort, err := strconv.ParseUint(agentPortStr, 10, 16)
	require.NoError(t, err)

	r := &testRelay{
		clientAddr: clientListener.Addr().String(),
		statusURL:  "http://" + statusListener.Addr().String(),
		agentPort:  uint16(agentPort),
		done:       make(chan error, 1),
	}
	go func() {
		r.done <- Run(ctx, options)
	}()
	return r
}

func (r *testRelay) status(t *testing.T) api.RelayStatus {
	t.Helper()
	var status api.RelayStatus
	resp, err := resty.New().R().SetResult(&status).Get(r.statusURL + "/status")
	require.NoError(t, err)
	require.False(t, resp.IsError())
	return status
}

func (r *testRelay) waitAgentAttached(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.status(t).AgentAttached
	}, 5*time.Second, 10*time.Millisecond)
}

func startAgent(t *testing.T, ctx context.Context, relayPort, targetPort uint16) (*utils.SingleEvent, chan error) {
	t.Helper()

	options := makeAgentOptions(relayPort, targetPort)
	done := make(chan error, 1)
	go func() {
		done <- agent.Run(ctx, options)
	}()
	return options.Ready, done
}

func makeAgentOptions(relayPort, targetPort uint16) agent.Options {
	options := agent.DefaultOptions
	options.RelayEndpoint = endpoint.New("127.0.0.1", relayPort)
	options.TargetEndpoint = endpoint.New("127.0.0.1", targetPort)
	options.KeepaliveInterval = 50 * time.Millisecond
	options.ReconnectInitialInterval = 10 * time.Millisecond
	options.ReconnectMaxInterval = 100 * time.Millisecond
	options.Ready = utils.NewSingleEvent()
	return options
}

// startEcho runs a TCP server writing every received byte back.
func startEcho(t *testing.T) uint16 {
	t.Helper()
	listener := listen(t)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	return uint16(port)
}

func TestTunnelRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	targetPort := startEcho(t)
	relay := startRelay(t, ctx)
	ready, agentDone := startAgent(t, ctx, relay.agentPort, targetPort)

	select {
	case <-ready.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent never attached")
	}
	relay.waitAgentAttached(t)

	client, err := net.Dial("tcp", relay.clientAddr)
	require.NoError(t, err)
	defer client.Close()

	payload := []byte("hello through the tunnel")
	_, err = client.Write(payload)
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	echoed := make([]byte, len(payload))
	_, err = io.ReadFull(client, echoed)
	require.NoError(t, err)
	assert.Equal(t, payload, echoed)

	status := relay.status(t)
	require.Len(t, status.Clients, 1)
	assert.Equal(t, uint32(1), status.Clients[0].UID)
	assert.Equal(t, uint64(len(payload)), status.Clients[0].BytesIn)
	assert.Equal(t, uint64(len(payload)), status.Clients[0].BytesOut)
	assert.Equal(t, uint64(len(payload)), status.TotalBytesIn)

	// closing the client tears the session down on both sides
	client.Close()
	require.Eventually(t, func() bool {
		return len(relay.status(t).Clients) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-relay.done, context.Canceled)
	assert.ErrorIs(t, <-agentDone, context.Canceled)
}

func TestTunnelMultipleClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	targetPort := startEcho(t)
	relay := startRelay(t, ctx)
	_, _ = startAgent(t, ctx, relay.agentPort, targetPort)
	relay.waitAgentAttached(t)

	payloads := [][]byte{
		[]byte("first client"),
		[]byte("second client, longer payload"),
	}
	for _, payload := range payloads {
		client, err := net.Dial("tcp", relay.clientAddr)
		require.NoError(t, err)
		defer client.Close()

		_, err = client.Write(payload)
		require.NoError(t, err)

		require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
		echoed := make([]byte, len(payload))
		_, err = io.ReadFull(client, echoed)
		require.NoError(t, err)
		assert.Equal(t, payload, echoed)
	}

	status := relay.status(t)
	assert.Len(t, status.Clients, 2)
}

func TestRelayWithoutAgentDropsData(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := startRelay(t, ctx)

	client, err := net.Dial("tcp", relay.clientAddr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("anyone there?"))
	require.NoError(t, err)

	// the client is tracked even though its data has nowhere to go
	require.Eventually(t, func() bool {
		status := relay.status(t)
		return len(status.Clients) == 1 && status.Clients[0].BytesIn > 0
	}, 5*time.Second, 10*time.Millisecond)

	status := relay.status(t)
	assert.False(t, status.AgentAttached)
	assert.Equal(t, uint64(0), status.Clients[0].BytesOut)
}

func TestTargetDisconnectClosesClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a target that refuses every session by closing it immediately
	targetListener := listen(t)
	t.Cleanup(func() { targetListener.Close() })
	go func() {
		for {
			conn, err := targetListener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	_, portStr, err := net.SplitHostPort(targetListener.Addr().String())
	require.NoError(t, err)
	targetPort, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)

	relay := startRelay(t, ctx)
	_, _ = startAgent(t, ctx, relay.agentPort, uint16(targetPort))
	relay.waitAgentAttached(t)

	client, err := net.Dial("tcp", relay.clientAddr)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = client.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestSecondAgentReplacesFirst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := startRelay(t, ctx)
	agentAddr := "127.0.0.1:" + strconv.Itoa(int(relay.agentPort))

	first, err := net.Dial("tcp", agentAddr)
	require.NoError(t, err)
	defer first.Close()
	relay.waitAgentAttached(t)

	// a second control connection takes over the link
	second, err := net.Dial("tcp", agentAddr)
	require.NoError(t, err)
	defer second.Close()

	require.Eventually(t, func() bool {
		status := relay.status(t)
		return status.AgentAttached && status.AgentAddr == second.LocalAddr().String()
	}, 5*time.Second, 10*time.Millisecond)

	// the replaced link is closed by the relay
	require.NoError(t, first.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = protocol.ReadFrame(first)
	assert.Error(t, err)

	// the tunnel works through the second link
	client, err := net.Dial("tcp", relay.clientAddr)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	frame, err := protocol.ReadFrame(second)
	require.NoError(t, err)
	assert.Equal(t, protocol.NewClient, frame.Type)

	payload := []byte("still tunnelling")
	_, err = second.Write(protocol.Marshal(frame.UID, protocol.Data, payload))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	received := make([]byte, len(payload))
	_, err = io.ReadFull(client, received)
	require.NoError(t, err)
	assert.Equal(t, payload, received)
}

func TestSilentAgentIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := startRelayTimeout(t, ctx, 200*time.Millisecond)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(int(relay.agentPort)))
	require.NoError(t, err)
	defer conn.Close()
	relay.waitAgentAttached(t)

	// a control link that never sends anything is dropped once the read
	// deadline expires
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool {
		return !relay.status(t).AgentAttached
	}, 5*time.Second, 10*time.Millisecond)
}

func TestControlLinkPingEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := startRelay(t, ctx)

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(int(relay.agentPort)))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(protocol.Marshal(0, protocol.Ping, nil))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	frame, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, protocol.Ping, frame.Type)
	assert.Equal(t, uint32(0), frame.UID)
}

func TestStatusPortBindFailureFailsStartup(t *testing.T) {
	// occupy a port so the status listener cannot bind
	taken := listen(t)
	defer taken.Close()
	_, portStr, err := net.SplitHostPort(taken.Addr().String())
	require.NoError(t, err)
	statusPort, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)

	options := DefaultOptions
	options.CustomClientListener = listen(t)
	options.CustomAgentListener = listen(t)
	options.StatusPort = uint(statusPort)

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), options)
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("a failing status listener did not fail the startup")
	}
}

func TestStatusAPIRoot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := startRelay(t, ctx)

	var info api.Info
	resp, err := resty.New().R().SetResult(&info).Get(relay.statusURL + "/")
	require.NoError(t, err)
	require.False(t, resp.IsError())
	assert.NotEmpty(t, info.Message)
}

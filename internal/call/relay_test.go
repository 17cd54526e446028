package call

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/transport/v4/vnet"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/webrtcpeer"
	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/webrtcpeer/vnettest"
)

func newRelayServer(t *testing.T) (*httptest.Server, *relay.Hub) {
	t.Helper()
	hub := relay.NewHub(relay.DefaultHubConfig(), quietLogger(), nil, nil)
	mux := http.NewServeMux()
	relay.NewWebSocketServer(hub, relay.ServerConfig{}, quietLogger(), nil).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		hub.Close()
	})
	return ts, hub
}

// dialCall connects a call to the relay the way the client binary does.
func dialCall(t *testing.T, ts *httptest.Server, n *vnet.Net, id string) (*Call, *signaling.Client) {
	t.Helper()

	api, err := webrtcpeer.NewAPI(webrtcpeer.Options{Net: n, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}

	var target atomic.Pointer[Call]
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/signal?session=e2e"
	sig, err := signaling.Dial(context.Background(), signaling.ClientConfig{URL: url, Logger: quietLogger()}, func(msg signaling.Message) {
		if c := target.Load(); c != nil {
			c.HandleMessage(msg)
		}
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = sig.Close() })

	c, err := New(Config{
		API:           api,
		Devices:       &media.SyntheticDevices{},
		Signaler:      sig,
		ParticipantID: id,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	target.Store(c)
	t.Cleanup(func() { _ = c.Close() })
	return c, sig
}

func TestCall_ConnectsThroughRelay(t *testing.T) {
	ts, hub := newRelayServer(t)
	netA, netB := vnettest.NewPair(t)

	alice, _ := dialCall(t, ts, netA, "alice")
	bob, _ := dialCall(t, ts, netB, "bob")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ActiveConnections() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("relay has %d connections, want 2", hub.ActiveConnections())
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, c := range []*Call{alice, bob} {
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("%s Start: %v", c.ParticipantID(), err)
		}
	}
	if err := alice.Offer(context.Background()); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	waitState(t, alice, StateConnected)
	waitState(t, bob, StateConnected)
	waitSnapshot(t, bob, "remote feeds", func(s Snapshot) bool { return s.RemoteFeeds == 2 })
}

func TestCall_RelayLossAfterConnectKeepsCall(t *testing.T) {
	ts, hub := newRelayServer(t)
	netA, netB := vnettest.NewPair(t)

	alice, aliceSig := dialCall(t, ts, netA, "alice")
	bob, _ := dialCall(t, ts, netB, "bob")
	for hub.ActiveConnections() != 2 {
		time.Sleep(10 * time.Millisecond)
	}
	for _, c := range []*Call{alice, bob} {
		if err := c.Start(context.Background()); err != nil {
			t.Fatalf("%s Start: %v", c.ParticipantID(), err)
		}
	}
	if err := alice.Offer(context.Background()); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	waitState(t, alice, StateConnected)

	_ = aliceSig.Close()
	<-aliceSig.Done()
	alice.SignalingLost(aliceSig.Err())

	time.Sleep(200 * time.Millisecond)
	if s := snapshot(t, alice); s.State != StateConnected {
		t.Fatalf("state=%s after relay loss, want connected", s.State)
	}
}

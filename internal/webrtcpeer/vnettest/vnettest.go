// Package vnettest wires two pion virtual networks behind one router so peer
// connections can negotiate in tests without touching real sockets.
package vnettest

import (
	"testing"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
)

const (
	cidr = "10.0.0.0/24"
	IPA  = "10.0.0.1"
	IPB  = "10.0.0.2"
)

// NewPair starts a router with two attached networks. The router is stopped
// when the test ends.
func NewPair(t testing.TB) (a, b *vnet.Net) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	a, err = vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{IPA}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	b, err = vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{IPB}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}

	if err := router.AddNet(a); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(b); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	return a, b
}

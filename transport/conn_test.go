package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"testing"
	"time"
)

// testCertificate builds a throwaway self-signed certificate so the TLS
// handshake has something to present without touching the filesystem.
func testCertificate(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func testConnPair(t *testing.T) (client, server *Conn) {
	t.Helper()
	cert := testCertificate(t)

	clientConfig := NewConfig(&tls.Config{InsecureSkipVerify: true})
	serverConfig := NewConfig(&tls.Config{Certificates: []tls.Certificate{cert}})

	clientSCID := []byte{1, 2, 3, 4}
	serverSCID := []byte{5, 6, 7, 8}

	client, err := Connect(clientSCID, clientConfig)
	if err != nil {
		t.Fatal(err)
	}
	server, err = Accept(serverSCID, nil, serverConfig)
	if err != nil {
		t.Fatal(err)
	}
	return client, server
}

// pump drains one outgoing datagram from `from` and feeds it to `to`,
// reporting whether there was anything to send.
func pump(t *testing.T, from, to *Conn) bool {
	t.Helper()
	buf := make([]byte, MaxPacketSize)
	n, err := from.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n == 0 {
		return false
	}
	if _, err := to.Write(buf[:n]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return true
}

// runHandshake pumps datagrams in both directions until both sides report
// the handshake complete, or the round budget is exhausted.
func runHandshake(t *testing.T, client, server *Conn) {
	t.Helper()
	for i := 0; i < 50; i++ {
		progressed := false
		progressed = pump(t, client, server) || progressed
		progressed = pump(t, server, client) || progressed
		if client.IsEstablished() && server.IsEstablished() {
			return
		}
		if !progressed {
			break
		}
	}
	t.Fatalf("handshake did not complete: client established=%v server established=%v",
		client.IsEstablished(), server.IsEstablished())
}

func TestConnHandshakeCompletes(t *testing.T) {
	client, server := testConnPair(t)
	runHandshake(t, client, server)

	sawHandshakeComplete := false
	for _, e := range client.Events(nil) {
		if e.Type == EventHandshakeComplete {
			sawHandshakeComplete = true
		}
	}
	if !sawHandshakeComplete {
		t.Fatal("client never observed EventHandshakeComplete")
	}
}

func TestConnStreamRoundTrip(t *testing.T) {
	client, server := testConnPair(t)
	runHandshake(t, client, server)

	st, err := client.Stream(0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.write([]byte("hello quic"), true); err != nil {
		t.Fatal(err)
	}

	var got []byte
	var fin bool
	for i := 0; i < 20 && !fin; i++ {
		pump(t, client, server)
		pump(t, server, client)

		for _, e := range server.Events(nil) {
			if e.Type == EventStream && e.Readable {
				peer, ok := server.streams.get(e.StreamID)
				if !ok {
					continue
				}
				b, done := peer.read()
				got = append(got, b...)
				if done {
					fin = true
				}
			}
		}
	}
	if string(got) != "hello quic" {
		t.Fatalf("received %q, want %q", got, "hello quic")
	}
	if !fin {
		t.Fatal("stream never completed")
	}
}

func TestConnClose(t *testing.T) {
	client, server := testConnPair(t)
	runHandshake(t, client, server)

	client.Close(true, 0, "bye")
	for i := 0; i < 10; i++ {
		if !pump(t, client, server) {
			break
		}
	}
	if !server.IsClosed() && server.drainingTimer.IsZero() {
		t.Fatal("server never entered draining after receiving CONNECTION_CLOSE")
	}
}

func TestConnTimeoutArmedAfterFirstSend(t *testing.T) {
	client, server := testConnPair(t)
	pump(t, client, server)
	if d := client.Timeout(); d < 0 {
		t.Fatal("expected a finite timeout once the loss-detection timer is armed by the first send")
	}
}

func TestConnKeyUpdateRoundTrip(t *testing.T) {
	client, server := testConnPair(t)
	runHandshake(t, client, server)

	if err := client.InitiateKeyUpdate(); err != nil {
		t.Fatalf("InitiateKeyUpdate: %v", err)
	}
	clientSpace := &client.packetNumberSpaces[packetSpaceApplication]
	if clientSpace.keyPhase != 1 {
		t.Fatalf("client key phase = %d, want 1 after local update", clientSpace.keyPhase)
	}

	// A second update must not start while the first is unacknowledged.
	if err := client.InitiateKeyUpdate(); err != nil {
		t.Fatalf("InitiateKeyUpdate (overlap): %v", err)
	}
	if !clientSpace.updatePending {
		t.Fatal("updatePending should still be set")
	}

	st, err := client.Stream(0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.write([]byte("post-update"), true); err != nil {
		t.Fatal(err)
	}

	var got []byte
	for i := 0; i < 20 && len(got) == 0; i++ {
		pump(t, client, server)
		pump(t, server, client)
		for _, e := range server.Events(nil) {
			if e.Type == EventStream && e.Readable {
				peer, ok := server.streams.get(e.StreamID)
				if !ok {
					continue
				}
				b, _ := peer.read()
				got = append(got, b...)
			}
		}
	}
	if string(got) != "post-update" {
		t.Fatalf("received %q after key update, want %q", got, "post-update")
	}
	serverSpace := &server.packetNumberSpaces[packetSpaceApplication]
	if serverSpace.keyPhase != 1 {
		t.Fatal("server never observed the peer-initiated key update")
	}
	if clientSpace.updatePending {
		t.Fatal("updatePending should clear once a post-update packet is acked")
	}
}

func TestConnCongestionWindowGatesRead(t *testing.T) {
	client, server := testConnPair(t)
	runHandshake(t, client, server)

	st, err := client.Stream(0)
	if err != nil {
		t.Fatal(err)
	}
	// Fill bytesInFlight past the congestion window without any acks
	// draining it, so Read must eventually report nothing to send.
	payload := make([]byte, 1<<20)
	if _, err := st.write(payload, false); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, MaxPacketSize)
	sentAny := false
	for i := 0; i < 1000; i++ {
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if n == 0 {
			break
		}
		sentAny = true
	}
	if !sentAny {
		t.Fatal("expected at least one packet to be sent before the window filled")
	}
	if client.BytesInFlight() > client.CongestionWindow()+MaxPacketSize {
		t.Fatalf("bytesInFlight %d exceeded congestion window %d by more than one packet",
			client.BytesInFlight(), client.CongestionWindow())
	}
}

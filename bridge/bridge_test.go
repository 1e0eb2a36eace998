package bridge

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/stretchr/testify/require"

	"github.com/ystepanoff/nrfmesh/datagram"
	"github.com/ystepanoff/nrfmesh/driver/stub"
	proto "github.com/ystepanoff/nrfmesh/protocol"
	"github.com/ystepanoff/nrfmesh/transport"
)

func TestMain(m *testing.M) {
	log15.Root().SetHandler(log15.DiscardHandler())
	os.Exit(m.Run())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type pipeRW struct {
	io.Reader
	io.Writer
}

func TestFormatLine(t *testing.T) {
	line := FormatLine(datagram.Packet{Payload: []byte("hi"), RSSI: -61})
	require.Equal(t, "-61 6869\n", line)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{in: "414243", want: []byte("ABC")},
		{in: "  0a0b \r", want: []byte{0x0a, 0x0b}},
		{in: "xyz", wantErr: true},
		{in: "abc", wantErr: true},
		{in: strings.Repeat("00", proto.MaxPacketSize+1), wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLine(tt.in)
		if tt.wantErr {
			require.ErrorIs(t, err, proto.ErrInvalidPayload, "line %q", tt.in)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.Baud = 0
	require.ErrorIs(t, cfg.Validate(), proto.ErrInvalidParameter)

	_, err := Open(DefaultConfig())
	require.ErrorIs(t, err, proto.ErrInvalidParameter, "no port name")
}

func newEndpoint(t *testing.T, ether *stub.Ether) (*transport.Radio, *datagram.Datagram) {
	t.Helper()
	r, err := transport.NewRadio(stub.New(stub.WithEther(ether)), transport.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, r.Enable())
	return r, datagram.New(r)
}

func TestBridgeRun(t *testing.T) {
	ether := stub.NewEther()
	local, localDG := newEndpoint(t, ether)
	peer, peerDG := newEndpoint(t, ether)

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	b := New(local, localDG, pipeRW{pr, out}, time.Millisecond)

	errc := make(chan error, 1)
	go func() { errc <- b.Run(context.Background()) }()

	// radio -> serial
	require.NoError(t, peerDG.SendString("hi"))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "-60 6869\n")
	}, time.Second, time.Millisecond)

	// serial -> radio
	_, err := io.WriteString(pw, "414243\n\nnothex\n")
	require.NoError(t, err)

	var got []byte
	require.Eventually(t, func() bool {
		peer.Idle()
		if p, ok := peerDG.Recv(); ok {
			got = p.Payload
		}
		return got != nil
	}, time.Second, time.Millisecond)
	require.Equal(t, []byte("ABC"), got)
	require.Eventually(t, func() bool { return b.Stats().BadLines == 1 }, time.Second, time.Millisecond)

	require.NoError(t, pw.Close())
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop on EOF")
	}

	st := b.Stats()
	require.Equal(t, uint64(1), st.Forwarded)
	require.Equal(t, uint64(1), st.Injected)
}

func TestBridgeStopsOnCancel(t *testing.T) {
	ether := stub.NewEther()
	local, localDG := newEndpoint(t, ether)

	pr, _ := io.Pipe()
	b := New(local, localDG, struct {
		io.ReadCloser
		io.Writer
	}{pr, io.Discard}, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop on cancel")
	}
}

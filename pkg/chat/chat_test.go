package chat

import (
	"crypto/md5"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Ramish25/reliable-chat/pkg/transport"
	"github.com/stretchr/testify/require"
)

func testConfig() transport.Config {
	return transport.Config{
		ChunkSize:          64,
		Timeout:            50 * time.Millisecond,
		NumRetransmissions: 5,
		WindowSize:         3,
	}
}

func newTestServer(t *testing.T) (*Server, *transport.Socket) {
	t.Helper()
	sock, err := transport.NewSocket(testConfig(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })

	server := NewServer(sock)
	go server.Run()
	return server, sock
}

func newTestClient(t *testing.T, serverAddr, username string) *Client {
	t.Helper()
	sock, err := transport.NewSocket(testConfig(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })

	client := NewClient(sock, serverAddr, username)
	go client.ReceiveLoop()
	return client
}

func TestJoinAndUsersList(t *testing.T) {
	_, serverSock := newTestServer(t)
	serverAddr := serverSock.LocalAddr()

	alice := newTestClient(t, serverAddr, "alice")
	alice.Join()

	bob := newTestClient(t, serverAddr, "bob")
	bob.Join()

	time.Sleep(100 * time.Millisecond)

	var gotList bool
	bob.out = writerFunc(func(p []byte) (int, error) {
		if containsAll(string(p), "list:", "alice", "bob") {
			gotList = true
		}
		return len(p), nil
	})
	bob.handleLine("list")

	require.Eventually(t, func() bool { return gotList }, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateUsernameRejected(t *testing.T) {
	_, serverSock := newTestServer(t)
	serverAddr := serverSock.LocalAddr()

	first := newTestClient(t, serverAddr, "alice")
	first.Join()
	time.Sleep(50 * time.Millisecond)

	second := newTestClient(t, serverAddr, "alice")
	second.Join()

	require.Eventually(t, func() bool { return !second.Connected() }, 2*time.Second, 10*time.Millisecond)
}

func TestSendMessageRelayedToRecipient(t *testing.T) {
	_, serverSock := newTestServer(t)
	serverAddr := serverSock.LocalAddr()

	alice := newTestClient(t, serverAddr, "alice")
	alice.Join()
	bob := newTestClient(t, serverAddr, "bob")
	bob.Join()
	time.Sleep(100 * time.Millisecond)

	var received string
	bob.out = writerFunc(func(p []byte) (int, error) {
		received += string(p)
		return len(p), nil
	})

	alice.handleLine("msg 1 bob hello bob")

	require.Eventually(t, func() bool {
		return containsAll(received, "msg:", "alice:", "hello bob")
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSendFileRelayedAndMaterializedAtRecipient exercises spec.md §8
// scenario 1's file-transfer path end to end: the recipient's materialized
// file is byte-identical (MD5-equal) to the source file sent.
func TestSendFileRelayedAndMaterializedAtRecipient(t *testing.T) {
	_, serverSock := newTestServer(t)
	serverAddr := serverSock.LocalAddr()

	alice := newTestClient(t, serverAddr, "alice")
	alice.Join()
	bob := newTestClient(t, serverAddr, "bob")
	bob.Join()
	time.Sleep(100 * time.Millisecond)

	content := make([]byte, 2000)
	rand.New(rand.NewSource(42)).Read(content)

	path := filepath.Join(t.TempDir(), "test_file2")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	var mu sync.Mutex
	var gotName, gotContent string
	bob.writeFile = func(name, c string) error {
		mu.Lock()
		defer mu.Unlock()
		gotName, gotContent = name, c
		return nil
	}

	alice.handleLine("file 1 bob " + path)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotContent != ""
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, path, gotName)
	require.Equal(t, md5.Sum(content), md5.Sum([]byte(gotContent)), "delivered file must be byte-identical to the source")
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

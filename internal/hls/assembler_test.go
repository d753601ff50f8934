package hls

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/streamvault-go/internal/fetch"
)

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()
	client := fetch.NewClient(fetch.ClientConfig{RetryBackoff: time.Millisecond}, zap.NewNop())
	return NewAssembler(client, zap.NewNop())
}

func TestAssembler_PlainMediaPlaylist(t *testing.T) {
	segments := map[string][]byte{
		"/seg0.ts": []byte("first-"),
		"/seg1.ts": []byte("second-"),
		"/seg2.ts": []byte("third"),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			fmt.Fprint(w, "#EXTM3U\n#EXTINF:9.0,\nseg0.ts\n#EXTINF:9.0,\nseg1.ts\n#EXTINF:9.0,\nseg2.ts\n#EXT-X-ENDLIST\n")
			return
		}
		if data, ok := segments[r.URL.Path]; ok {
			w.Write(data)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.ts")
	var lastCompleted, lastTotal int

	err := newTestAssembler(t).Assemble(context.Background(), server.URL+"/index.m3u8", dest, func(completed, total int) {
		lastCompleted, lastTotal = completed, total
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "first-second-third", string(data))
	assert.Equal(t, 3, lastCompleted)
	assert.Equal(t, 3, lastTotal)
}

func TestAssembler_MasterPicksBestVariant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/master.m3u8":
			fmt.Fprint(w, "#EXTM3U\n"+
				"#EXT-X-STREAM-INF:BANDWIDTH=500000\nlow.m3u8\n"+
				"#EXT-X-STREAM-INF:BANDWIDTH=3000000\nhigh.m3u8\n"+
				"#EXT-X-STREAM-INF:BANDWIDTH=1500000\nmid.m3u8\n")
		case "/high.m3u8":
			fmt.Fprint(w, "#EXTM3U\n#EXTINF:9.0,\nhq.ts\n#EXT-X-ENDLIST\n")
		case "/hq.ts":
			w.Write([]byte("high-quality-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.ts")
	err := newTestAssembler(t).Assemble(context.Background(), server.URL+"/master.m3u8", dest, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "high-quality-bytes", string(data))
}

func TestAssembler_EncryptedSegments(t *testing.T) {
	key := []byte("0123456789abcdef")
	plain0 := []byte("encrypted segment zero")
	plain1 := []byte("encrypted segment one")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.m3u8":
			fmt.Fprint(w, "#EXTM3U\n"+
				"#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n"+
				"#EXTINF:9.0,\nseg0.ts\n#EXTINF:9.0,\nseg1.ts\n#EXT-X-ENDLIST\n")
		case "/key.bin":
			w.Write(key)
		case "/seg0.ts":
			w.Write(encryptCBC(t, plain0, key, DeriveIV(0)))
		case "/seg1.ts":
			w.Write(encryptCBC(t, plain1, key, DeriveIV(1)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.ts")
	err := newTestAssembler(t).Assemble(context.Background(), server.URL+"/index.m3u8", dest, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, string(plain0)+string(plain1), string(data))
}

func TestAssembler_InitSegmentWrittenFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.m3u8":
			fmt.Fprint(w, "#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:4.0,\nseg0.m4s\n#EXT-X-ENDLIST\n")
		case "/init.mp4":
			w.Write([]byte("INIT"))
		case "/seg0.m4s":
			w.Write([]byte("BODY"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.ts")
	err := newTestAssembler(t).Assemble(context.Background(), server.URL+"/index.m3u8", dest, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "INITBODY", string(data))
}

func TestAssembler_EmptyMediaPlaylist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-ENDLIST\n")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.ts")
	err := newTestAssembler(t).Assemble(context.Background(), server.URL+"/index.m3u8", dest, nil)

	assert.ErrorIs(t, err, ErrNoSegments)
	assert.NoFileExists(t, dest)
}

func TestAssembler_MasterWithoutVariants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\n")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.ts")
	err := newTestAssembler(t).Assemble(context.Background(), server.URL+"/master.m3u8", dest, nil)

	assert.ErrorIs(t, err, ErrNoVariants)
}

func TestAssembler_CancellationDeletesPartialOutput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.m3u8":
			fmt.Fprint(w, "#EXTM3U\n#EXTINF:9.0,\nseg0.ts\n#EXTINF:9.0,\nseg1.ts\n#EXT-X-ENDLIST\n")
		case "/seg0.ts":
			// Cancel mid-run so the second segment is never attempted
			cancel()
			w.Write([]byte("partial"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.ts")
	err := newTestAssembler(t).Assemble(ctx, server.URL+"/index.m3u8", dest, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dest)
}

func TestAssembler_BadKeyLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.m3u8":
			fmt.Fprint(w, "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n#EXTINF:9.0,\nseg0.ts\n#EXT-X-ENDLIST\n")
		case "/key.bin":
			w.Write([]byte("short"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "out.ts")
	err := newTestAssembler(t).Assemble(context.Background(), server.URL+"/index.m3u8", dest, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryption key")
}

package nntp

import (
	"context"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer speaks just enough NNTP for the client tests.
type fakeServer struct {
	listener net.Listener
	password string

	mu       sync.Mutex
	articles map[string][]byte // message-id -> raw body
	posts    int
}

func newFakeServer(t *testing.T, password string) *fakeServer {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{
		listener: l,
		password: password,
		articles: make(map[string][]byte),
	}
	go s.serve()
	t.Cleanup(func() { _ = l.Close() })
	return s
}

func (s *fakeServer) config() ServerConfig {
	addr := s.listener.Addr().(*net.TCPAddr)
	cfg := ServerConfig{
		Host:         "127.0.0.1",
		Port:         addr.Port,
		PostingGroup: "alt.binaries.test",
	}
	if s.password != "" {
		cfg.Username = "user"
		cfg.Password = s.password
	}
	return cfg
}

func (s *fakeServer) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	text := textproto.NewConn(conn)

	if err := text.PrintfLine("200 fake server ready"); err != nil {
		return
	}

	authed := s.password == ""
	for {
		line, err := text.ReadLine()
		if err != nil {
			return
		}
		verb, rest, _ := strings.Cut(line, " ")

		switch strings.ToUpper(verb) {
		case "AUTHINFO":
			kind, value, _ := strings.Cut(rest, " ")
			switch strings.ToUpper(kind) {
			case "USER":
				text.PrintfLine("381 password required")
			case "PASS":
				if value == s.password {
					authed = true
					text.PrintfLine("281 authentication accepted")
				} else {
					text.PrintfLine("481 authentication rejected")
				}
			}

		case "DATE":
			text.PrintfLine("111 20260824000000")

		case "STAT":
			s.mu.Lock()
			_, ok := s.articles[rest]
			s.mu.Unlock()
			if ok {
				text.PrintfLine("223 0 %s", rest)
			} else {
				text.PrintfLine("430 no such article")
			}

		case "BODY":
			s.mu.Lock()
			body, ok := s.articles[rest]
			s.mu.Unlock()
			if !ok {
				text.PrintfLine("430 no such article")
				continue
			}
			text.PrintfLine("222 0 %s", rest)
			w := text.DotWriter()
			w.Write(body)
			w.Close()

		case "POST":
			if !authed {
				text.PrintfLine("480 authentication required")
				continue
			}
			text.PrintfLine("340 send article")
			raw, err := text.ReadDotBytes()
			if err != nil {
				return
			}
			headers, body, _ := strings.Cut(string(raw), "\r\n\r\n")
			if headers == "" {
				headers, body, _ = strings.Cut(string(raw), "\n\n")
			}
			msgID := ""
			for _, h := range strings.Split(headers, "\n") {
				k, v, _ := strings.Cut(strings.TrimRight(h, "\r"), ": ")
				if strings.EqualFold(k, "Message-ID") {
					msgID = v
				}
			}
			s.mu.Lock()
			s.articles[msgID] = []byte(body)
			s.posts++
			s.mu.Unlock()
			text.PrintfLine("240 article posted %s", msgID)

		case "QUIT":
			text.PrintfLine("205 goodbye")
			return

		default:
			text.PrintfLine("500 unknown command")
		}
	}
}

func dialFake(t *testing.T, s *fakeServer) *Conn {
	t.Helper()
	cfg := s.config()
	conn, err := Dial(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDial(t *testing.T) {
	t.Run("without auth", func(t *testing.T) {
		s := newFakeServer(t, "")
		conn := dialFake(t, s)
		assert.NoError(t, conn.Date(context.Background()))
	})

	t.Run("with auth", func(t *testing.T) {
		s := newFakeServer(t, "secret")
		conn := dialFake(t, s)
		assert.NoError(t, conn.Date(context.Background()))
	})

	t.Run("wrong password", func(t *testing.T) {
		s := newFakeServer(t, "secret")
		cfg := s.config()
		cfg.Password = "wrong"
		_, err := Dial(context.Background(), &cfg)
		assert.ErrorIs(t, err, ErrAuthFailed)
	})

	t.Run("connection refused", func(t *testing.T) {
		cfg := ServerConfig{Host: "127.0.0.1", Port: 1, PostingGroup: "g"}
		_, err := Dial(context.Background(), &cfg)
		assert.Error(t, err)
	})
}

func TestPostAndFetch(t *testing.T) {
	s := newFakeServer(t, "secret")
	conn := dialFake(t, s)
	ctx := context.Background()

	// Leading dot exercises NNTP dot-stuffing both ways.
	body := []byte(".leading dot line\r\nsecond line\r\n")
	article := &Article{
		Headers: map[string]string{
			"From":       "poster@example.com",
			"Newsgroups": "alt.binaries.test",
			"Subject":    "ABCDEFGHIJKLMNOPQRST",
			"Message-ID": "<0123456789abcdef@ngPost.com>",
		},
		Body: body,
	}

	require.NoError(t, conn.Post(ctx, article))
	assert.Equal(t, 1, s.postCount())

	t.Run("stat finds the article", func(t *testing.T) {
		assert.NoError(t, conn.Stat(ctx, "<0123456789abcdef@ngPost.com>"))
	})

	t.Run("body round-trips", func(t *testing.T) {
		got, err := conn.Body(ctx, "<0123456789abcdef@ngPost.com>")
		require.NoError(t, err)
		// The dot codec normalizes line endings to \n.
		assert.Equal(t,
			strings.ReplaceAll(string(body), "\r\n", "\n"),
			strings.ReplaceAll(string(got), "\r\n", "\n"))
	})

	t.Run("missing article surfaces 430", func(t *testing.T) {
		_, err := conn.Body(ctx, "<missing@ngPost.com>")
		ne, ok := AsError(err)
		require.True(t, ok)
		assert.True(t, ne.IsNotFound())
	})
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, (&Error{Code: 502}).IsRateLimited())
	assert.True(t, (&Error{Code: 441}).IsRefused())
	assert.True(t, (&Error{Code: 430}).IsNotFound())
	assert.True(t, (&Error{Code: 500}).IsServerError())
	assert.False(t, (&Error{Code: 502}).IsServerError())
}

func TestHealthPriority(t *testing.T) {
	h := NewHealth()
	assert.Equal(t, 0.0, h.Priority(), "unused connection scores best")

	h.RecordSuccess(100*time.Millisecond, 1000)
	assert.InDelta(t, 100.0, h.Priority(), 0.01)
	assert.Equal(t, 1.0, h.SuccessRate())

	h.RecordFailure(100 * time.Millisecond)
	// rate 0.5 -> 50 penalty, avg 100ms
	assert.InDelta(t, 150.0, h.Priority(), 0.01)
	assert.Equal(t, 1, h.ConsecutiveFailures())

	h.RecordSuccess(100*time.Millisecond, 0)
	assert.Equal(t, 0, h.ConsecutiveFailures())

	snap := h.Snapshot()
	assert.Equal(t, uint64(2), snap.Successes)
	assert.Equal(t, uint64(1), snap.Failures)
	assert.Equal(t, int64(1000), snap.BytesTransferred)
}

// Package nntp implements the minimal NNTP client dialogue the engine
// needs (AUTHINFO, POST, ARTICLE, BODY, STAT, DATE) and a health-scored
// multi-server connection pool on top of it.
package nntp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sort"
	"strconv"
	"time"
)

// ServerConfig describes one upstream NNTP server.
type ServerConfig struct {
	Host           string `mapstructure:"host" yaml:"host" validate:"required"`
	Port           int    `mapstructure:"port" yaml:"port" validate:"required,min=1,max=65535"`
	TLS            bool   `mapstructure:"tls" yaml:"tls"`
	Username       string `mapstructure:"username" yaml:"username,omitempty"`
	Password       string `mapstructure:"password" yaml:"password,omitempty"`
	PostingGroup   string `mapstructure:"posting_group" yaml:"posting_group" validate:"required"`
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	Weight         int    `mapstructure:"weight" yaml:"weight,omitempty"`
}

// Addr returns the host:port dial address.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Article is one post: header map plus an already-encoded body.
type Article struct {
	Headers map[string]string
	Body    []byte
}

// Conn is a single authenticated NNTP connection.
type Conn struct {
	server *ServerConfig
	netc   net.Conn
	text   *textproto.Conn

	Health *Health
}

// Dial connects and authenticates against one server. The context bounds
// the TCP/TLS handshake and greeting exchange.
func Dial(ctx context.Context, server *ServerConfig) (*Conn, error) {
	dialer := &net.Dialer{}
	netc, err := dialer.DialContext(ctx, "tcp", server.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", server.Addr(), err)
	}

	if server.TLS {
		tlsConn := tls.Client(netc, &tls.Config{ServerName: server.Host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			netc.Close()
			return nil, fmt.Errorf("tls handshake with %s failed: %w", server.Addr(), err)
		}
		netc = tlsConn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = netc.SetDeadline(deadline)
	}

	conn := &Conn{
		server: server,
		netc:   netc,
		text:   textproto.NewConn(netc),
		Health: NewHealth(),
	}

	// Greeting: 200 posting allowed, 201 reading only.
	code, msg, err := conn.text.ReadCodeLine(2)
	if err != nil {
		conn.closeNet()
		return nil, convertTextprotoError(err)
	}
	if code != CodePostingAllowed && code != CodePostingForbidden {
		conn.closeNet()
		return nil, &Error{Code: code, Msg: msg}
	}

	if server.Username != "" {
		if err := conn.authenticate(); err != nil {
			conn.closeNet()
			return nil, err
		}
	}

	_ = netc.SetDeadline(time.Time{})
	return conn, nil
}

func (c *Conn) authenticate() error {
	code, msg, err := c.cmd("AUTHINFO USER %s", c.server.Username)
	if err != nil {
		return err
	}
	if code == CodePasswordRequired {
		code, msg, err = c.cmd("AUTHINFO PASS %s", c.server.Password)
		if err != nil {
			return err
		}
	}
	if code != CodeAuthAccepted {
		return fmt.Errorf("%w: %d %s", ErrAuthFailed, code, msg)
	}
	return nil
}

// Post submits an article. The body must already be yEnc text; the dot
// writer applies NNTP dot-stuffing and the terminating line.
func (c *Conn) Post(ctx context.Context, article *Article) error {
	c.applyDeadline(ctx)
	defer c.clearDeadline()

	code, msg, err := c.cmd("POST")
	if err != nil {
		return err
	}
	if code != CodeSendArticle {
		return &Error{Code: code, Msg: msg}
	}

	w := c.text.DotWriter()
	for _, key := range sortedHeaderKeys(article.Headers) {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", key, article.Headers[key]); err != nil {
			w.Close()
			return fmt.Errorf("failed to write article headers: %w", err)
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		w.Close()
		return fmt.Errorf("failed to write article separator: %w", err)
	}
	if _, err := w.Write(article.Body); err != nil {
		w.Close()
		return fmt.Errorf("failed to write article body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish article: %w", err)
	}

	code, msg, err = c.text.ReadCodeLine(-1)
	if err != nil {
		return convertTextprotoError(err)
	}
	if code != CodePostedOK {
		return &Error{Code: code, Msg: msg}
	}
	return nil
}

// Body retrieves the body of an article by message identifier.
func (c *Conn) Body(ctx context.Context, messageID string) ([]byte, error) {
	return c.fetch(ctx, "BODY", CodeBodyFollows, messageID)
}

// ArticleByID retrieves headers and body of an article by message
// identifier, undecoded.
func (c *Conn) ArticleByID(ctx context.Context, messageID string) ([]byte, error) {
	return c.fetch(ctx, "ARTICLE", CodeArticleFollows, messageID)
}

func (c *Conn) fetch(ctx context.Context, verb string, okCode int, messageID string) ([]byte, error) {
	c.applyDeadline(ctx)
	defer c.clearDeadline()

	code, msg, err := c.cmd("%s %s", verb, messageID)
	if err != nil {
		return nil, err
	}
	if code != okCode {
		return nil, &Error{Code: code, Msg: msg}
	}
	data, err := c.text.ReadDotBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", verb, err)
	}
	return data, nil
}

// Stat checks whether an article exists without transferring it.
func (c *Conn) Stat(ctx context.Context, messageID string) error {
	c.applyDeadline(ctx)
	defer c.clearDeadline()

	code, msg, err := c.cmd("STAT %s", messageID)
	if err != nil {
		return err
	}
	if code != CodeStatOK {
		return &Error{Code: code, Msg: msg}
	}
	return nil
}

// Date issues the DATE no-op, used as a keepalive ping.
func (c *Conn) Date(ctx context.Context) error {
	c.applyDeadline(ctx)
	defer c.clearDeadline()

	code, msg, err := c.cmd("DATE")
	if err != nil {
		return err
	}
	if code != 111 {
		return &Error{Code: code, Msg: msg}
	}
	return nil
}

// Quit closes the connection politely.
func (c *Conn) Quit() error {
	_, _, _ = c.cmd("QUIT")
	return c.closeNet()
}

// Close tears the connection down without the QUIT exchange. Used on
// cancellation to interrupt an in-flight operation.
func (c *Conn) Close() error {
	return c.closeNet()
}

// Server returns the configuration this connection was dialed with.
func (c *Conn) Server() *ServerConfig {
	return c.server
}

func (c *Conn) cmd(format string, args ...any) (int, string, error) {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return 0, "", fmt.Errorf("failed to send command: %w", err)
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)

	code, msg, err := c.text.ReadCodeLine(-1)
	if err != nil {
		return 0, "", convertTextprotoError(err)
	}
	return code, msg, nil
}

func (c *Conn) applyDeadline(ctx context.Context) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.netc.SetDeadline(deadline)
	}
}

func (c *Conn) clearDeadline() {
	_ = c.netc.SetDeadline(time.Time{})
}

func (c *Conn) closeNet() error {
	return c.netc.Close()
}

func convertTextprotoError(err error) error {
	if tpErr, ok := err.(*textproto.Error); ok {
		return &Error{Code: tpErr.Code, Msg: tpErr.Msg}
	}
	return err
}

func sortedHeaderKeys(headers map[string]string) []string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

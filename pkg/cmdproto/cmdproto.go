// Package cmdproto runs the stdio command protocol: JSON lines of the
// shape {command, args} on stdin answered with {success, data|error} on
// stdout. Commands mirror the HTTP surface one-for-one and dispatch into
// the same service operations with the same argument schemas.
package cmdproto

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/api/service"
)

// Request is one decoded input line.
type Request struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response is one output line.
type Response struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail mirrors the HTTP error envelope's inner object.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type commandFunc func(ctx context.Context, args json.RawMessage) (any, error)

// command adapts a typed service operation into the dispatch table. Args
// decode into the operation's parameter struct, so both surfaces accept
// the same schemas.
func command[P, R any](fn func(context.Context, P) (R, error)) commandFunc {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var params P
		if len(args) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, service.Validationf("invalid args: %v", err)
			}
		}
		return fn(ctx, params)
	}
}

// Runner reads commands from a stream and answers on another.
type Runner struct {
	commands map[string]commandFunc

	mu  sync.Mutex // serializes output lines
	out *json.Encoder
}

// New builds a runner over the shared service.
func New(svc *service.Service, out io.Writer) *Runner {
	return &Runner{
		out: json.NewEncoder(out),
		commands: map[string]commandFunc{
			"health": command(svc.Health),

			"user.create": command(svc.CreateUser),
			"user.list":   command(svc.ListUsers),
			"auth.login":  command(svc.Login),

			"folder.list":   command(svc.ListFolders),
			"folder.get":    command(svc.GetFolder),
			"folder.add":    command(svc.AddFolder),
			"folder.remove": command(svc.RemoveFolder),
			"folder.index":  command(svc.IndexFolder),

			"share.create":           command(svc.CreateShare),
			"share.list":             command(svc.ListShares),
			"share.get":              command(svc.GetShare),
			"share.verify":           command(svc.VerifyShare),
			"share.revoke":           command(svc.RevokeShare),
			"share.extend":           command(svc.ExtendShare),
			"share.recipient.add":    command(svc.AddShareRecipient),
			"share.recipient.remove": command(svc.RemoveShareRecipient),

			"upload.queue":   command(svc.UploadQueue),
			"upload.requeue": command(svc.RequeueUpload),

			"download.start":    command(svc.StartDownload),
			"download.progress": command(svc.GetDownloadProgress),
			"download.list":     command(svc.ListDownloads),

			"stats": command(svc.GetStats),
			"logs":  command(svc.GetLogs),
		},
	}
}

// Commands returns the known command names, unordered.
func (r *Runner) Commands() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	return names
}

// Run reads JSON lines until EOF or context cancellation. Malformed lines
// answer an error response instead of stopping the loop.
func (r *Runner) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		r.dispatch(ctx, line)
	}
	return scanner.Err()
}

func (r *Runner) dispatch(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		r.fail(service.Validationf("invalid request line: %v", err))
		return
	}
	if req.Command == "" {
		r.fail(service.Validationf("command is required"))
		return
	}

	fn, ok := r.commands[req.Command]
	if !ok {
		r.fail(service.Validationf("unknown command: %s", req.Command))
		return
	}

	data, err := fn(ctx, req.Args)
	if err != nil {
		logger.Debug("command failed", "command", req.Command, logger.Err(err))
		r.fail(err)
		return
	}
	r.write(Response{Success: true, Data: data})
}

func (r *Runner) fail(err error) {
	code, _ := service.Classify(err)
	r.write(Response{Success: false, Error: &ErrorDetail{Code: code, Message: err.Error()}})
}

func (r *Runner) write(resp Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.out.Encode(resp); err != nil {
		logger.Warn("failed to encode command response", logger.Err(err))
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostfunc

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/nvimwasm/pkg/apimodel"
	"github.com/holomush/nvimwasm/pkg/errutil"
	"github.com/holomush/nvimwasm/pkg/object"
)

// GlobalScope is the VarStore scope of g: variables.
const GlobalScope = "g"

// Log levels accepted by nvim_notify, as in vim.log.levels.
const (
	LogTrace int64 = iota
	LogDebug
	LogInfo
	LogWarn
	LogError
	LogOff
)

// Standard provides reference bodies for a small part of the API, enough
// to drive plugins outside an editor.
type Standard struct {
	vars   VarStore
	logger *slog.Logger
}

// NewStandard creates reference bodies backed by vars. A nil logger uses
// slog.Default.
func NewStandard(vars VarStore, logger *slog.Logger) *Standard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Standard{vars: vars, logger: logger}
}

// Register binds every reference body whose function r declares.
func (s *Standard) Register(r *Registry) error {
	bodies := map[string]Func{
		"nvim_get_var":      s.getVar,
		"nvim_set_var":      s.setVar,
		"nvim_del_var":      s.delVar,
		"nvim_echo":         s.echo,
		"nvim_out_write":    s.write(false),
		"nvim_err_write":    s.write(true),
		"nvim_err_writeln":  s.write(true),
		"nvim_notify":       s.notify,
		"nvim_get_mode":     getMode,
		"nvim_get_api_info": apiInfo(r.API()),
	}
	for name, fn := range bodies {
		if _, ok := r.API().Func(name); !ok {
			continue
		}
		if err := r.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(call *Call, i int) (string, error) {
	s, ok := call.Arg(i).(object.String)
	if !ok {
		p := call.Func.Params[i]
		return "", oops.In("hostfunc").Code(errutil.CodeInvalidArgument).
			With("function", call.Func.Name).
			With("param", p.Name).
			Errorf("%s: argument %q must be String, got %s", call.Func.Name, p.Name, object.TypeOf(call.Arg(i)))
	}
	return string(s), nil
}

func (s *Standard) getVar(ctx context.Context, call *Call) (object.Object, error) {
	name, err := stringArg(call, 0)
	if err != nil {
		return nil, err
	}
	v, ok, err := s.vars.Get(ctx, GlobalScope, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.In("hostfunc").Code(errutil.CodeInvalidArgument).
			With("name", name).Errorf("Key not found: %s", name)
	}
	return v, nil
}

func (s *Standard) setVar(ctx context.Context, call *Call) (object.Object, error) {
	name, err := stringArg(call, 0)
	if err != nil {
		return nil, err
	}
	return object.Nil{}, s.vars.Set(ctx, GlobalScope, name, call.Arg(1))
}

func (s *Standard) delVar(ctx context.Context, call *Call) (object.Object, error) {
	name, err := stringArg(call, 0)
	if err != nil {
		return nil, err
	}
	ok, err := s.vars.Delete(ctx, GlobalScope, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, oops.In("hostfunc").Code(errutil.CodeInvalidArgument).
			With("name", name).Errorf("Key not found: %s", name)
	}
	return object.Nil{}, nil
}

// echo accepts chunks either as [text, hl_group] pairs or as bare strings.
func (s *Standard) echo(ctx context.Context, call *Call) (object.Object, error) {
	chunks, ok := call.Arg(0).(object.Array)
	if !ok {
		return nil, oops.In("hostfunc").Code(errutil.CodeInvalidArgument).
			Errorf("nvim_echo: chunks must be Array, got %s", object.TypeOf(call.Arg(0)))
	}
	var b strings.Builder
	for _, chunk := range chunks {
		switch c := chunk.(type) {
		case object.String:
			b.WriteString(string(c))
		case object.Array:
			if len(c) > 0 {
				if text, ok := c[0].(object.String); ok {
					b.WriteString(string(text))
				}
			}
		}
	}
	history, _ := call.Arg(1).(object.Boolean)
	s.logger.InfoContext(ctx, b.String(),
		"source", "nvim_echo",
		"instance_id", call.InstanceID,
		"history", bool(history))
	return object.Nil{}, nil
}

// write logs one record per call; trailing newlines are trimmed.
func (s *Standard) write(stderr bool) Func {
	return func(ctx context.Context, call *Call) (object.Object, error) {
		msg, err := stringArg(call, 0)
		if err != nil {
			return nil, err
		}
		msg = strings.TrimRight(msg, "\n")
		if stderr {
			s.logger.ErrorContext(ctx, msg, "source", call.Func.Name, "instance_id", call.InstanceID)
		} else {
			s.logger.InfoContext(ctx, msg, "source", call.Func.Name, "instance_id", call.InstanceID)
		}
		return object.Nil{}, nil
	}
}

func (s *Standard) notify(ctx context.Context, call *Call) (object.Object, error) {
	msg, err := stringArg(call, 0)
	if err != nil {
		return nil, err
	}
	level, _ := call.Arg(1).(object.Integer)
	attrs := []any{"source", "nvim_notify", "instance_id", call.InstanceID}
	switch l := int64(level); {
	case l >= LogOff:
	case l >= LogError:
		s.logger.ErrorContext(ctx, msg, attrs...)
	case l == LogWarn:
		s.logger.WarnContext(ctx, msg, attrs...)
	case l == LogInfo:
		s.logger.InfoContext(ctx, msg, attrs...)
	default:
		s.logger.DebugContext(ctx, msg, attrs...)
	}
	return object.Nil{}, nil
}

func getMode(context.Context, *Call) (object.Object, error) {
	return object.Dictionary{
		{Key: "mode", Value: object.String("n")},
		{Key: "blocking", Value: object.Boolean(false)},
	}, nil
}

// apiInfo returns [channel id, metadata]. The metadata nests containers, so
// only the embedding process can consume it.
func apiInfo(api *apimodel.API) Func {
	return func(_ context.Context, call *Call) (object.Object, error) {
		funcs := make(object.Array, 0, len(api.Funcs()))
		for _, fn := range api.Funcs() {
			funcs = append(funcs, object.Dictionary{
				{Key: "name", Value: object.String(fn.Name)},
				{Key: "since", Value: object.Integer(fn.Since())},
				{Key: "method", Value: object.Boolean(false)},
			})
		}
		metadata := object.Dictionary{
			{Key: "version", Value: object.Dictionary{
				{Key: "api_level", Value: object.Integer(api.Level())},
				{Key: "api_prerelease", Value: object.Boolean(false)},
			}},
			{Key: "functions", Value: funcs},
		}
		return object.Array{object.Integer(call.ChannelID), metadata}, nil //nolint:gosec // G115: channel ids are opaque bit patterns
	}
}

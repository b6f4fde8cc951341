// Copyright 2021 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package log is a small log15-shaped logger: leveled, contextual
// key/value pairs, no package-global mutable state. The engine never logs
// through a global; callers inject a Logger via config.Options.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
)

type Level uint8

const (
	LvlCrit Level = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Level) String() string {
	switch l {
	case LvlCrit:
		return "crit"
	case LvlError:
		return "eror"
	case LvlWarn:
		return "warn"
	case LvlInfo:
		return "info"
	case LvlDebug:
		return "dbug"
	case LvlTrace:
		return "trce"
	default:
		return "unkn"
	}
}

// Logger is the interface the engine depends on. New derives a child
// logger carrying additional key/value context, matching the log15 idiom
// this ecosystem's own logging package follows.
type Logger interface {
	New(ctx ...interface{}) Logger
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

// Discard never writes anything. It's the default Logger for Options.
var Discard Logger = discard{}

type discard struct{}

func (discard) New(ctx ...interface{}) Logger        { return discard{} }
func (discard) Trace(msg string, ctx ...interface{}) {}
func (discard) Debug(msg string, ctx ...interface{}) {}
func (discard) Info(msg string, ctx ...interface{})  {}
func (discard) Warn(msg string, ctx ...interface{})  {}
func (discard) Error(msg string, ctx ...interface{}) {}
func (discard) Crit(msg string, ctx ...interface{})  {}

// New builds a Logger that writes leveled, logfmt-ish lines to w. Callers
// that want erigon's own richer handler chain (terminal colorization,
// vmodule filters, etc.) can implement Logger themselves; this is the
// plain, dependency-free default for embedding without a bespoke setup.
func New(w io.Writer, minLevel Level) Logger {
	return &logger{w: w, min: minLevel}
}

type logger struct {
	mu   sync.Mutex
	w    io.Writer
	min  Level
	ctx  []interface{}
}

func (l *logger) New(ctx ...interface{}) Logger {
	nctx := make([]interface{}, 0, len(l.ctx)+len(ctx))
	nctx = append(nctx, l.ctx...)
	nctx = append(nctx, ctx...)
	return &logger{w: l.w, min: l.min, ctx: nctx}
}

func (l *logger) log(lvl Level, msg string, ctx []interface{}) {
	if lvl > l.min {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s [%s] %s", time.Now().UTC().Format(time.RFC3339), lvl, msg)
	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(l.w, " %v=%v", all[i], all[i+1])
	}
	if lvl <= LvlError {
		// Capture the caller one frame up so an Error/Crit line can be traced
		// back without a debugger attached.
		c := stack.Caller(2)
		fmt.Fprintf(l.w, " caller=%+v", c)
	}
	fmt.Fprintln(l.w)
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.log(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.log(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.log(LvlCrit, msg, ctx) }

// Default is a convenience Logger writing Info-and-above to stderr.
var Default Logger = New(os.Stderr, LvlInfo)

// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package middleware

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"code.hybscloud.com/respdrive/resp"
	"github.com/sirupsen/logrus"
)

func newCapturingLogger() (*logrus.Entry, *bytes.Buffer) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(log), &buf
}

func TestLogging_SuccessLogsDebug(t *testing.T) {
	log, buf := newCapturingLogger()
	mw := Logging(log)
	next := terminalFor(resp.NewSimpleString([]byte("PONG")), nil)

	if _, err := mw(&Context{Ctx: context.Background(), Token: "PING"}, next); err != nil {
		t.Fatalf("mw: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "command completed") || !strings.Contains(out, "token=PING") {
		t.Fatalf("log output=%q missing expected fields", out)
	}
}

func TestLogging_TransportErrorLogsWarn(t *testing.T) {
	log, buf := newCapturingLogger()
	mw := Logging(log)
	boom := errors.New("boom")
	next := terminalFor(resp.Value{}, boom)

	_, err := mw(&Context{Ctx: context.Background(), Token: "GET"}, next)
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v, want boom", err)
	}
	out := buf.String()
	if !strings.Contains(out, "command failed") || !strings.Contains(out, "level=warning") {
		t.Fatalf("log output=%q missing expected fields", out)
	}
}

func TestLogging_ServerErrorLogsWarn(t *testing.T) {
	log, buf := newCapturingLogger()
	mw := Logging(log)
	next := terminalFor(resp.NewError([]byte("WRONGTYPE bad op")), nil)

	v, err := mw(&Context{Ctx: context.Background(), Token: "INCR"}, next)
	if err != nil {
		t.Fatalf("mw: %v", err)
	}
	if !v.IsError() {
		t.Fatal("expected the server error Value to pass through unchanged")
	}
	out := buf.String()
	if !strings.Contains(out, "command returned a server error") || !strings.Contains(out, "WRONGTYPE") {
		t.Fatalf("log output=%q missing expected fields", out)
	}
}

func TestLogging_NilEntryDefaultsInstead(t *testing.T) {
	mw := Logging(nil)
	next := terminalFor(resp.NewSimpleString([]byte("OK")), nil)
	if _, err := mw(&Context{Ctx: context.Background(), Token: "PING"}, next); err != nil {
		t.Fatalf("mw: %v", err)
	}
}

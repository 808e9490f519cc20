/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestShowCopyright(t *testing.T) {
	var buf bytes.Buffer
	showCopyright(&buf)

	msg := buf.String()
	if !strings.Contains(msg, "Mozilla Public License") {
		t.Error("copyright banner does not contain expected license terms")
	}
}

func TestRootCmd_NoArgsPrintsUsage(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute with no args: %v", err)
	}
	if !strings.Contains(out.String(), "Usage:") {
		t.Error("expected Usage output when no APK path is given, got: " + out.String())
	}
}

func TestRootCmd_VersionFlag(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute --version: %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Errorf("expected version string %q in output, got: %s", version, out.String())
	}
}

func TestRootCmd_CopyrightFlag(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--copyright"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute --copyright: %v", err)
	}
	if !strings.Contains(out.String(), "Mozilla Public License") {
		t.Error("expected license text in --copyright output, got: " + out.String())
	}
}

func TestRootCmd_RejectsTooManyArgs(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"one.apk", "two.apk"})

	if err := cmd.Execute(); err == nil {
		t.Error("expected an error for more than one positional argument")
	}
}

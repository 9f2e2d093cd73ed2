package session

import (
	"strings"
	"testing"

	"github.com/whistler-io/whistler/internal/store"
)

func TestBuildMOTD(t *testing.T) {
	motd := string(buildMOTD(motdData{
		Instance:          "dev1",
		PersonalMountPath: "/userdata",
		Mounts: []store.Mount{
			{Name: "data", Path: "/data"},
			{Name: "datasets", Path: "/mnt/datasets"},
		},
		Ephemeral:   true,
		Preemptible: true,
	}))

	if !strings.HasSuffix(motd, "\r\n") {
		t.Error("MOTD must terminate with CRLF")
	}
	if strings.Contains(strings.ReplaceAll(motd, "\r\n", ""), "\n") {
		t.Error("MOTD must use CRLF endings exclusively")
	}

	for _, want := range []string{
		"Welcome to your whistler instance dev1.",
		"Your personal storage is mounted at /userdata.",
		"* data - /data",
		"* datasets - /mnt/datasets",
		"ephemeral",
		"preemptible",
	} {
		if !strings.Contains(motd, want) {
			t.Errorf("MOTD missing %q", want)
		}
	}

	// Banner is the fixed first block.
	if !strings.HasPrefix(motd, banner[0]) {
		t.Error("MOTD must start with the banner")
	}
}

func TestBuildMOTDMinimal(t *testing.T) {
	motd := string(buildMOTD(motdData{Instance: "dev1"}))

	for _, absent := range []string{"personal storage", "Mounted volumes", "ephemeral", "preemptible"} {
		if strings.Contains(motd, absent) {
			t.Errorf("minimal MOTD must not mention %q", absent)
		}
	}
	if !strings.Contains(motd, "instance dev1") {
		t.Error("welcome line missing")
	}
}

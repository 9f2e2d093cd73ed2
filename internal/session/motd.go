package session

import (
	"fmt"
	"strings"

	"github.com/whistler-io/whistler/internal/store"
)

// banner is the fixed block printed at the top of every MOTD.
var banner = []string{
	`__        ___     _     _   _           `,
	`\ \      / / |__ (_)___| |_| | ___ _ __ `,
	` \ \ /\ / /| '_ \| / __| __| |/ _ \ '__|`,
	`  \ V  V / | | | | \__ \ |_| |  __/ |   `,
	`   \_/\_/  |_| |_|_|___/\__|_|\___|_|   `,
}

// motdData is everything the greeting renders.
type motdData struct {
	Instance          store.ShortName
	PersonalMountPath string
	Mounts            []store.Mount
	Ephemeral         bool
	Preemptible       bool
}

// buildMOTD renders the greeting with CRLF line endings, terminated by
// a final CRLF.
func buildMOTD(d motdData) []byte {
	lines := make([]string, 0, len(banner)+8)
	lines = append(lines, banner...)
	lines = append(lines, "")
	lines = append(lines, fmt.Sprintf("Welcome to your whistler instance %s.", d.Instance))

	if d.PersonalMountPath != "" {
		lines = append(lines, fmt.Sprintf("Your personal storage is mounted at %s.", d.PersonalMountPath))
	}
	if len(d.Mounts) > 0 {
		lines = append(lines, "Mounted volumes:")
		for _, m := range d.Mounts {
			lines = append(lines, fmt.Sprintf("* %s - %s", m.Name, m.Path))
		}
	}
	if d.Ephemeral {
		lines = append(lines, "This instance is ephemeral and will be deleted when you disconnect.")
	}
	if d.Preemptible {
		lines = append(lines, "This instance is preemptible and may be stopped to reclaim capacity.")
	}

	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

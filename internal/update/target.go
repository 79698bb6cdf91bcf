package update

import (
	"maps"
	"time"

	"github.com/starford/tronos/internal/image"
	"github.com/starford/tronos/internal/node"
)

// TargetVersion is the version of the shipped default system image.
const TargetVersion = "1.4.0"

var targetDirs = []string{
	"/bin",
	"/etc",
	"/home",
	"/home/tronos",
	"/tmp",
	"/usr",
	"/usr/share",
	"/var",
	"/var/log",
}

var targetFiles = map[string]string{
	"/etc/motd": "" +
		"Welcome to TRONOS v" + TargetVersion + "\n" +
		"The Grid awaits. Type `help` to begin.\n",
	"/etc/hostname": "grid-node-01\n",
	"/etc/version":  TargetVersion + "\n",
	"/home/tronos/.profile": "" +
		"# tronos shell profile\n" +
		"export PATH=/bin:/usr/bin\n" +
		"export EDITOR=edit\n" +
		"alias ll='ls -l'\n",
	"/home/tronos/readme.txt": "" +
		"Your home directory persists across sessions.\n" +
		"Snapshots and timewarp keep your edits recoverable.\n",
	"/bin/help.trx": "" +
		"#!trx\n" +
		"print \"Available programs: ls cat grep edit update timewarp snapshot\"\n",
	"/bin/version.trx": "" +
		"#!trx\n" +
		"print \"TRONOS v" + TargetVersion + "\"\n",
	"/usr/share/manual.txt": "" +
		"TRONOS manual\n" +
		"=============\n" +
		"update   - reconcile your system against the latest defaults\n" +
		"timewarp - per-file version history\n" +
		"snapshot - whole-session point-in-time copies\n",
}

// defaultEnv seeds new sessions and ships with the target image.
var defaultEnv = map[string]string{
	"HOME": "/home/tronos",
	"USER": "tronos",
	"PATH": "/bin:/usr/bin",
}

// Target builds the canonical "latest defaults" disk image the update
// engine reconciles against.
func Target() *image.DiskImage {
	now := time.Now().UTC()
	img := &image.DiskImage{
		Version:  image.FormatVersion,
		Name:     "tronos-defaults-v" + TargetVersion,
		Created:  now,
		Exported: now,
		Session: image.SessionInfo{
			Env:     maps.Clone(defaultEnv),
			Aliases: map[string]string{"ll": "ls -l"},
		},
		Files: make(map[string]image.FileEntry, len(targetDirs)+len(targetFiles)),
	}
	for _, d := range targetDirs {
		img.Files[d] = image.FileEntry{
			Type: node.TypeDirectory,
			Meta: image.FileMeta{Created: now, Modified: now, Permissions: node.DefaultDirPerms},
		}
	}
	for p, content := range targetFiles {
		img.Files[p] = image.FileEntry{
			Type:    node.TypeFile,
			Content: content,
			Meta:    image.FileMeta{Created: now, Modified: now, Permissions: node.DefaultFilePerms},
		}
	}
	return img
}

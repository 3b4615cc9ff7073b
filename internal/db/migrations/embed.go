// Package migrations embeds the SQL schema of each GymNexus database.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed records/*.sql queue/*.sql media/*.sql
var files embed.FS

// Records returns the migrations of records.db.
func Records() fs.FS { return sub("records") }

// Queue returns the migrations of queue.db.
func Queue() fs.FS { return sub("queue") }

// Media returns the migrations of media.db.
func Media() fs.FS { return sub("media") }

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		// dir is a compile-time constant covered by the embed pattern.
		panic(err)
	}
	return f
}

// Package migrations ships the authority schema and demo seeds with the binaries.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql
var schema embed.FS

//go:embed seeds/*.sql
var seeds embed.FS

// Schema holds the NNNN_name.up.sql / .down.sql pairs.
func Schema() fs.FS { return mustSub(schema, "sql") }

// Seeds holds optional demo data.
func Seeds() fs.FS { return mustSub(seeds, "seeds") }

func mustSub(f embed.FS, dir string) fs.FS {
	sub, err := fs.Sub(f, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

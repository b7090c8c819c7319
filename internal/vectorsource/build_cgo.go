//go:build sqlite_vec
// +build sqlite_vec

package vectorsource

// This file is compiled when building with CGO and the sqlite_vec tag. It
// enables a native cosine-distance SQL function so similarity search runs
// inside SQLite instead of in Go.
//
// Build command:
//   CGO_ENABLED=1 go build -tags sqlite_vec ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	"database/sql"
	"math"

	"github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use.
	DriverName = "sqlite3-seagoat-vec"

	// VectorExtensionAvailable indicates whether the optimized SQL-side
	// cosine distance function can be used.
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration.
	BuildMode = "cgo"
)

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("vec_distance_cosine", vecDistanceCosine, true)
		},
	})
}

// vecDistanceCosine is registered as a scalar SQL function so similarity
// ranking can happen inside SQLite instead of by scanning every row in Go.
func vecDistanceCosine(a, b []byte) float64 {
	va, vb := deserializeVector(a), deserializeVector(b)
	if len(va) != len(vb) || len(va) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range va {
		dot += float64(va[i] * vb[i])
		na += float64(va[i] * va[i])
		nb += float64(vb[i] * vb[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
